package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mediaflow/ice"
)

// adminNotifier wraps the reload notifier so admin can trigger it over
// HTTP too, same split as internal/manage.Manager/internal/reload.Notifier.
type adminNotifier interface {
	Notify()
}

// admin exposes spec.md §6's host-facing queries over HTTP (spec §10.5:
// "modeled on internal/manage.Manager"): GET /sessions/<n>/state returns
// the session role and state, the nth check list's state, the local ufrag,
// the default local candidate, and the nominated remote address per
// component ("none" until one is nominated). Passwords and remote
// credentials are not reported.
type admin struct {
	session  *ice.Session
	notifier adminNotifier
	log      *zap.Logger
}

func newAdmin(l *zap.Logger, s *ice.Session, n adminNotifier) *admin {
	return &admin{session: s, notifier: n, log: l}
}

func (a *admin) fprintln(w io.Writer, args ...interface{}) {
	if _, err := fmt.Fprintln(w, args...); err != nil {
		a.log.Warn("failed to write admin response", zap.Error(err))
	}
}

func (a *admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/reload":
		a.log.Info("got reload request")
		w.WriteHeader(http.StatusOK)
		a.notifier.Notify()
		a.fprintln(w, "config will be reloaded soon")
	case strings.HasPrefix(r.URL.Path, "/sessions/"):
		a.serveSessionState(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		a.fprintln(w, "admin endpoint not found")
	}
}

func (a *admin) serveSessionState(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	streamIndexStr := strings.TrimSuffix(rest, "/state")
	streamIndex, err := strconv.Atoi(streamIndexStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		a.fprintln(w, "bad stream index:", err)
		return
	}
	state, err := a.session.ChecklistState(streamIndex)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		a.fprintln(w, "no such stream:", err)
		return
	}
	localUfrag, _ := a.session.LocalCredentials()
	a.fprintln(w, "role:", a.session.Role())
	a.fprintln(w, "session_state:", a.session.State())
	a.fprintln(w, "checklist_state:", state)
	a.fprintln(w, "local_ufrag:", localUfrag)
	if def, err := a.session.DefaultLocalCandidate(streamIndex); err == nil {
		a.fprintln(w, "default_local_candidate:", def)
	} else {
		a.fprintln(w, "default_local_candidate: none")
	}
	for _, component := range []ice.ComponentID{ice.ComponentRTP, ice.ComponentRTCP} {
		addr, err := a.session.NominatedRemoteAddress(streamIndex, component)
		if err != nil {
			a.fprintln(w, component, "nominated_remote: none")
			continue
		}
		a.fprintln(w, component, "nominated_remote:", addr)
	}
}

package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mediaflow/ice"
	"github.com/mediaflow/ice/internal/reload"
)

var cfgFile string

func initConfig(v *viper.Viper) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ice-agent/")
		v.SetConfigName("ice-agent")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		fmt.Println("failed to read config:", err)
		os.Exit(1)
	}
}

func buildSession(l *zap.Logger, cfg *agentConfig) (*ice.Session, map[ice.ComponentID]*udpSocket, error) {
	metrics := ice.NewSessionMetrics(prometheus.Labels{"agent": "ice-agent"})
	s, err := ice.NewSession(ice.Options{
		Role:                  cfg.Role,
		LocalUfrag:            cfg.LocalUfrag,
		LocalPwd:              cfg.LocalPwd,
		RemoteUfrag:           cfg.RemoteUfrag,
		RemotePwd:             cfg.RemotePwd,
		MaxConnectivityChecks: cfg.MaxConnectivityChecks,
		Log:                   l,
		Metrics:               metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.KeepaliveTimeout != "" {
		d, err := time.ParseDuration(cfg.KeepaliveTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("agent.keepalive_timeout: %w", err)
		}
		s.SetKeepaliveTimeout(d)
	}

	cl := s.AddStream()
	sockets := make(map[ice.ComponentID]*udpSocket)
	for _, c := range cfg.LocalCandidates {
		component, err := c.component()
		if err != nil {
			return nil, nil, err
		}
		sock, err := listenUDP(c.IP, c.Port)
		if err != nil {
			return nil, nil, fmt.Errorf("listen %s:%d: %w", c.IP, c.Port, err)
		}
		sockets[component] = sock
		cl.AddLocalCandidate(ice.NewHostCandidate(sock.local, component, 0))
	}
	s.PreparePairs(cl)

	staticSockets := make(map[ice.ComponentID]ice.Socket, len(sockets))
	for c, sock := range sockets {
		staticSockets[c] = sock
	}
	s.SetSockets(namedSockets(staticSockets))
	return s, sockets, nil
}

// namedSockets adapts a map of concrete sockets to ice.ComponentSockets.
type namedSockets map[ice.ComponentID]ice.Socket

func (n namedSockets) Socket(c ice.ComponentID) (ice.Socket, bool) {
	sock, ok := n[c]
	return sock, ok
}

func runAgent(l *zap.Logger, v *viper.Viper, cfg *agentConfig) error {
	session, sockets, err := buildSession(l, cfg)
	if err != nil {
		return err
	}
	for component, sock := range sockets {
		component, sock := component, sock
		go sock.readLoop(func(peer ice.TransportAddress, data []byte) {
			if err := session.HandleMessage(time.Now(), 0, sock.local, peer, component, data); err != nil {
				l.Warn("failed to handle message", zap.Error(err))
			}
		})
	}

	n := reload.NewNotifier()
	reloadConfig := func() {
		reloaded, err := parseAgentConfig(v)
		if err != nil {
			l.Error("failed to parse reloaded config", zap.Error(err))
			return
		}
		session.SetRemoteCredentials(reloaded.RemoteUfrag, reloaded.RemotePwd)
		l.Info("remote credentials reloaded")
	}
	// fsnotify-backed reload (spec §10.4): viper re-reads the file itself
	// and fires this callback on every write.
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		l.Info("config file changed", zap.String("file", e.Name))
		reloadConfig()
	})
	// SIGUSR2-triggered reload (spec §10.4), for deployments where the
	// config is rewritten out-of-band and fsnotify may race the write.
	go func() {
		for range n.C {
			l.Info("reload requested")
			if err := v.ReadInConfig(); err != nil {
				l.Error("failed to reload config", zap.Error(err))
				continue
			}
			reloadConfig()
		}
	}()

	if cfg.AdminAddr != "" {
		a := newAdmin(l.Named("admin"), session, n)
		mux := http.NewServeMux()
		mux.Handle("/", a)
		if cfg.PrometheusAddr == cfg.AdminAddr {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			if err := http.ListenAndServe(cfg.AdminAddr, mux); err != nil {
				l.Error("admin endpoint failed", zap.Error(err))
			}
		}()
	}
	if cfg.PrometheusAddr != "" && cfg.PrometheusAddr != cfg.AdminAddr {
		go func() {
			if err := http.ListenAndServe(cfg.PrometheusAddr, promhttp.Handler()); err != nil {
				l.Error("prometheus endpoint failed", zap.Error(err))
			}
		}()
	}
	if cfg.PprofAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			if err := http.ListenAndServe(cfg.PprofAddr, mux); err != nil {
				l.Error("pprof failed to listen", zap.Error(err))
			}
		}()
	}

	l.Info("ice-agent running", zap.String("role", cfg.Role.String()))
	tickLoop(session)
	return nil
}

// tickLoop drives Session.Tick at the default Ta interval for as long as
// the process runs, standing in for the live ticker goroutine
// internal/server.Server.Serve owns for its worker pool.
func tickLoop(s *ice.Session) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		s.Tick(time.Now(), nil)
	}
}

func getRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run an ICE agent against a peer for manual/interop testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg, err := getZapConfig(v)
			if err != nil {
				return err
			}
			l, err := logCfg.Build()
			if err != nil {
				return err
			}
			if strings.Split(v.GetString("version"), ".")[0] != "1" {
				l.Fatal("unsupported config file version", zap.String("v", v.GetString("version")))
			}
			cfg, err := parseAgentConfig(v)
			if err != nil {
				return err
			}
			return runAgent(l, v, cfg)
		},
	}
	return cmd
}

func getRoot(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "ice-agent",
		Short: "ice-agent drives an ICE (RFC 5245) connectivity check session for debugging and interop testing",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ice-agent.yml)")
	root.AddCommand(getRunCmd(v))
	root.AddCommand(getKeyCmd())
	root.AddCommand(getReloadCmd(v))
	cobra.OnInitialize(func() { initConfig(v) })
	return root
}

// Execute starts the root command.
func Execute() {
	v := viper.GetViper()
	initViper(v)
	if err := getRoot(v).Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mediaflow/ice"
)

// candidateConfig is one entry of agent.candidates in the config file.
type candidateConfig struct {
	Component string `mapstructure:"component"`
	IP        string `mapstructure:"ip"`
	Port      int    `mapstructure:"port"`
}

func (c candidateConfig) component() (ice.ComponentID, error) {
	switch strings.ToLower(c.Component) {
	case "rtp", "1":
		return ice.ComponentRTP, nil
	case "rtcp", "2":
		return ice.ComponentRTCP, nil
	default:
		return 0, fmt.Errorf("unknown component %q", c.Component)
	}
}

// agentConfig is the full set of values ice-agent run reads from its
// viper-backed config file, grounded on internal/cli/run.go's
// parseOptions/server.Options split.
type agentConfig struct {
	Role        ice.Role
	LocalUfrag  string
	LocalPwd    string
	RemoteUfrag string
	RemotePwd   string

	MaxConnectivityChecks int
	KeepaliveTimeout      string

	LocalCandidates []candidateConfig

	AdminAddr     string
	PrometheusAddr string
	PprofAddr     string
}

func parseRole(s string) (ice.Role, error) {
	switch strings.ToLower(s) {
	case "controlling":
		return ice.Controlling, nil
	case "controlled":
		return ice.Controlled, nil
	default:
		return 0, fmt.Errorf("unknown agent.role %q, want controlling or controlled", s)
	}
}

// parseAgentConfig mirrors parseOptions in internal/cli/run.go: reads
// every agent.* key from v into a typed agentConfig, failing fast on any
// value that cannot be interpreted.
func parseAgentConfig(v *viper.Viper) (*agentConfig, error) {
	role, err := parseRole(v.GetString("agent.role"))
	if err != nil {
		return nil, err
	}
	var candidates []candidateConfig
	if err := v.UnmarshalKey("agent.candidates", &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse agent.candidates: %w", err)
	}
	cfg := &agentConfig{
		Role:                  role,
		LocalUfrag:            v.GetString("agent.local_ufrag"),
		LocalPwd:              v.GetString("agent.local_pwd"),
		RemoteUfrag:           v.GetString("agent.remote_ufrag"),
		RemotePwd:             v.GetString("agent.remote_pwd"),
		MaxConnectivityChecks: v.GetInt("agent.max_connectivity_checks"),
		KeepaliveTimeout:      v.GetString("agent.keepalive_timeout"),
		LocalCandidates:       candidates,
		AdminAddr:             v.GetString("agent.admin_addr"),
		PrometheusAddr:        v.GetString("agent.prometheus_addr"),
		PprofAddr:             v.GetString("agent.pprof_addr"),
	}
	return cfg, nil
}

func initViper(v *viper.Viper) {
	v.SetDefault("agent.role", "controlling")
	v.SetDefault("agent.max_connectivity_checks", 100)
	v.SetDefault("agent.keepalive_timeout", "15s")
	v.SetDefault("version", "1")
}

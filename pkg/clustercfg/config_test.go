package clustercfg

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: master-01
node_type: master
bind_addr: 0.0.0.0
port: 1516
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Intervals.RecalculateIntegritySeconds != DefaultRecalculateIntegritySeconds {
		t.Errorf("expected default interval %d, got %d", DefaultRecalculateIntegritySeconds, cfg.Intervals.RecalculateIntegritySeconds)
	}
	if got, want := cfg.Addr(), "0.0.0.0:1516"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestParseRejectsBadNodeType(t *testing.T) {
	_, err := Parse([]byte(`
node_name: x
node_type: bogus
bind_addr: 127.0.0.1
port: 1516
`))
	if err == nil {
		t.Fatal("expected error for invalid node_type")
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`
node_type: master
bind_addr: 127.0.0.1
port: 1516
`))
	if err == nil {
		t.Fatal("expected error for missing node_name")
	}
}

func TestParseAppliesDefaultClusterItems(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: master-01
node_type: master
bind_addr: 0.0.0.0
port: 1516
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ClusterItems) != 3 {
		t.Fatalf("got %d default cluster items, want 3", len(cfg.ClusterItems))
	}
}

func TestParseHonorsExplicitClusterItems(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: master-01
node_type: master
bind_addr: 0.0.0.0
port: 1516
cluster_items:
  - key: /queue/agent-groups/
    root: /var/ossec/queue/agent-groups
    merge_type: agent-groups
    extra_is_meaningful: true
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ClusterItems) != 1 {
		t.Fatalf("got %d cluster items, want 1 explicit", len(cfg.ClusterItems))
	}
	if !cfg.ClusterItems[0].ExtraIsMeaningful {
		t.Error("expected extra_is_meaningful to be honored")
	}
}

func TestParseHonorsExplicitInterval(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: master-01
node_type: master
bind_addr: 0.0.0.0
port: 1516
intervals:
  recalculate_integrity: 30
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Intervals.RecalculateIntegritySeconds != 30 {
		t.Errorf("expected 30, got %d", cfg.Intervals.RecalculateIntegritySeconds)
	}
}

func TestParseAppliesDefaultClientIntervals(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: client-01
node_type: client
bind_addr: 0.0.0.0
port: 1516
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Intervals.IntegrityRequest != DefaultIntegrityRequestSeconds*time.Second {
		t.Errorf("IntegrityRequest = %v", cfg.Intervals.IntegrityRequest)
	}
	if cfg.Intervals.AgentInfoPush != DefaultAgentInfoPushSeconds*time.Second {
		t.Errorf("AgentInfoPush = %v", cfg.Intervals.AgentInfoPush)
	}
	if cfg.Intervals.ExtraValidPush != DefaultExtraValidPushSeconds*time.Second {
		t.Errorf("ExtraValidPush = %v", cfg.Intervals.ExtraValidPush)
	}
}

func TestParseHonorsExplicitClientIntervals(t *testing.T) {
	cfg, err := Parse([]byte(`
node_name: client-01
node_type: client
bind_addr: 0.0.0.0
port: 1516
intervals:
  integrity_request: 5
  agent_info_push: 15
  extra_valid_push: 20
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Intervals.IntegrityRequestSeconds != 5 {
		t.Errorf("IntegrityRequestSeconds = %d, want 5", cfg.Intervals.IntegrityRequestSeconds)
	}
	if cfg.Intervals.AgentInfoPushSeconds != 15 {
		t.Errorf("AgentInfoPushSeconds = %d, want 15", cfg.Intervals.AgentInfoPushSeconds)
	}
	if cfg.Intervals.ExtraValidPushSeconds != 20 {
		t.Errorf("ExtraValidPushSeconds = %d, want 20", cfg.Intervals.ExtraValidPushSeconds)
	}
}

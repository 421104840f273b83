// Package clustercfg decodes and validates the cluster configuration
// surface: node identity, bind address, seed node list, and the
// master's interval map.
package clustercfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeType distinguishes the master from client nodes.
type NodeType string

const (
	NodeTypeMaster NodeType = "master"
	NodeTypeClient NodeType = "client"
)

// Node is a seed entry in the nodes[] list.
type Node struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// Intervals holds the background-task cadences driving both the
// master's integrity refresher and, per §6 ("analogous per-stream
// intervals driving client-side pushes"), the client's three
// request/push loops. All are expressed in seconds in the YAML
// document and converted to time.Duration on load.
type Intervals struct {
	RecalculateIntegrity        time.Duration `yaml:"-"`
	RecalculateIntegritySeconds int           `yaml:"recalculate_integrity"`

	IntegrityRequest        time.Duration `yaml:"-"`
	IntegrityRequestSeconds int           `yaml:"integrity_request"`

	AgentInfoPush        time.Duration `yaml:"-"`
	AgentInfoPushSeconds int           `yaml:"agent_info_push"`

	ExtraValidPush        time.Duration `yaml:"-"`
	ExtraValidPushSeconds int           `yaml:"extra_valid_push"`
}

// Default interval values, applied when the corresponding key is
// absent or zero.
const (
	DefaultRecalculateIntegritySeconds = 8
	DefaultIntegrityRequestSeconds     = 10
	DefaultAgentInfoPushSeconds        = 10
	DefaultExtraValidPushSeconds       = 10
)

// ClusterItem is one "cluster_items.json" policy profile: a
// cluster_item_key's directory, how it is walked, who owns it, and
// how an incoming file for it is written to disk (spec §3's "Policy
// profiles carry write_mode, umask, merge_type, and a flag for
// whether the master owns it").
type ClusterItem struct {
	Key               string `yaml:"key"`
	Root              string `yaml:"root"`
	Recursive         bool   `yaml:"recursive"`
	ExtraIsMeaningful bool   `yaml:"extra_is_meaningful"`
	// WriteMode is "atomic" or "direct"; anything else defaults to atomic.
	WriteMode string `yaml:"write_mode"`
	Umask     uint32 `yaml:"umask"`
	// MergeType is "none", "agent-info", or "agent-groups".
	MergeType string `yaml:"merge_type"`
	// MasterOwned marks a master->client pushed file (integrity);
	// false marks a client->master pushed file (agent-info/extra-valid).
	MasterOwned bool `yaml:"master_owned"`
}

// Config is the decoded cluster configuration.
type Config struct {
	NodeName     string        `yaml:"node_name"`
	NodeType     NodeType      `yaml:"node_type"`
	BindAddr     string        `yaml:"bind_addr"`
	Port         int           `yaml:"port"`
	Nodes        []Node        `yaml:"nodes"`
	Intervals    Intervals     `yaml:"intervals"`
	ClusterItems []ClusterItem `yaml:"cluster_items"`
}

// DefaultClusterItems mirrors the three profiles spec.md names by
// example: master-owned shared configuration (atomic writes, pushed
// master->client during integrity sync) and the two client-owned
// families merged for transfer (agent-info, agent-groups).
func DefaultClusterItems(root string) []ClusterItem {
	return []ClusterItem{
		{
			Key: "/etc/shared/", Root: root + "/etc/shared", Recursive: true,
			WriteMode: "atomic", Umask: 0o027, MasterOwned: true,
		},
		{
			Key: "/queue/agent-info/", Root: root + "/queue/agent-info", Recursive: false,
			WriteMode: "atomic", Umask: 0o027, MergeType: "agent-info",
		},
		{
			Key: "/queue/agent-groups/", Root: root + "/queue/agent-groups", Recursive: false,
			WriteMode: "atomic", Umask: 0o027, MergeType: "agent-groups", ExtraIsMeaningful: true,
		},
	}
}

// Load reads and validates a configuration document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cluster config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document already in memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing cluster config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Intervals.RecalculateIntegritySeconds <= 0 {
		cfg.Intervals.RecalculateIntegritySeconds = DefaultRecalculateIntegritySeconds
	}
	if cfg.Intervals.IntegrityRequestSeconds <= 0 {
		cfg.Intervals.IntegrityRequestSeconds = DefaultIntegrityRequestSeconds
	}
	if cfg.Intervals.AgentInfoPushSeconds <= 0 {
		cfg.Intervals.AgentInfoPushSeconds = DefaultAgentInfoPushSeconds
	}
	if cfg.Intervals.ExtraValidPushSeconds <= 0 {
		cfg.Intervals.ExtraValidPushSeconds = DefaultExtraValidPushSeconds
	}
	cfg.Intervals.RecalculateIntegrity = time.Duration(cfg.Intervals.RecalculateIntegritySeconds) * time.Second
	cfg.Intervals.IntegrityRequest = time.Duration(cfg.Intervals.IntegrityRequestSeconds) * time.Second
	cfg.Intervals.AgentInfoPush = time.Duration(cfg.Intervals.AgentInfoPushSeconds) * time.Second
	cfg.Intervals.ExtraValidPush = time.Duration(cfg.Intervals.ExtraValidPushSeconds) * time.Second
	if len(cfg.ClusterItems) == 0 {
		cfg.ClusterItems = DefaultClusterItems("/var/ossec")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("clustercfg: node_name is required")
	}
	switch c.NodeType {
	case NodeTypeMaster, NodeTypeClient:
	default:
		return fmt.Errorf("clustercfg: node_type must be %q or %q, got %q", NodeTypeMaster, NodeTypeClient, c.NodeType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("clustercfg: port %d out of range", c.Port)
	}
	return nil
}

// Addr returns "bind_addr:port" for use with net.Listen/net.Dial.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

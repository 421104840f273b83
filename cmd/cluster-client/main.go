// Command cluster-client runs the client side of the cluster
// coordination core: it dials the master, performs the handshake, and
// runs the three periodic sync loops (integrity pull, agent-info
// push, extra-valid push) until terminated.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/clusterclient"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cluster-client",
	Short:   "Run the cluster client daemon",
	Version: Version,
	RunE:    runClient,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cluster-client version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/cluster/client.yml", "Path to cluster configuration YAML")

	cobra.OnInitialize(initLogging)

	rootCmd.Flags().String("root", "/var/ossec", "Platform root holding the managed file trees")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runClient(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	root, _ := cmd.Flags().GetString("root")

	cfg, err := clustercfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.NodeType != clustercfg.NodeTypeClient {
		return fmt.Errorf("cluster-client: config node_type is %q, want %q", cfg.NodeType, clustercfg.NodeTypeClient)
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("cluster-client: config nodes[] must name at least the master to dial")
	}
	masterAddr := cfg.Nodes[0].Addr

	logger := log.WithComponent("cluster-client")
	logger.Info().Str("node", cfg.NodeName).Str("master", masterAddr).Msg("connecting to master")

	client, err := clusterclient.Dial(clusterclient.Config{
		Name:       cfg.NodeName,
		Version:    Version,
		MasterAddr: masterAddr,
		Root:       root,
		Items:      cfg.ClusterItems,
		Intervals:  cfg.Intervals,
	})
	if err != nil {
		return fmt.Errorf("connecting to master: %w", err)
	}
	client.Start()
	logger.Info().Msg("connected, sync loops running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case <-client.Stopped():
		logger.Warn().Msg("connection to master lost")
	}

	client.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}

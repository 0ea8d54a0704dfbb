package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import pprof for profiling endpoints
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssenthilnathan3/dist-space/pkg/config"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/metrics"
	"github.com/ssenthilnathan3/dist-space/pkg/node"
	"github.com/ssenthilnathan3/dist-space/pkg/server"
	"github.com/ssenthilnathan3/dist-space/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "distspace",
	Short: "dist-space - Distributed collaborative workspace engine",
	Long: `dist-space is a distributed workspace engine that lets many
participants - humans through editors and autonomous agents - mutate a
shared text workspace in real time.

Each participant connects to one of several peer nodes; nodes exchange
operations so every client converges on the same document state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dist-space version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a dist-space node",
	Long: `Run a dist-space node: serve client sessions, replicate committed
operations to peers, and persist the operation log.

Examples:
  # Single node
  distspace server --node-id node-1

  # Two-node cluster
  distspace server --node-id node-1 --peer node-2=10.0.0.2:7421
  distspace server --node-id node-2 --peer node-1=10.0.0.1:7421 --listen-addr :7430`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("config", "", "YAML config file (flags override file values)")
	serverCmd.Flags().String("node-id", "", "Unique node ID (required without --config)")
	serverCmd.Flags().String("data-dir", "", "Data directory for the persistent stores")
	serverCmd.Flags().String("listen-addr", "", "Client listen address")
	serverCmd.Flags().String("peer-listen-addr", "", "Peer listen address")
	serverCmd.Flags().String("metrics-addr", "", "Prometheus metrics address")
	serverCmd.Flags().StringSlice("peer", nil, "Replication peer as id=host:port (repeatable)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}

	transport := server.NewPeerTransport(cfg.NodeID, cfg.Peers)
	n, err := node.New(cfg, store, transport)
	if err != nil {
		store.Close()
		return err
	}
	n.Start()

	srv := server.NewServer(n)
	if err := srv.Start(cfg.ListenAddr, cfg.PeerListenAddr); err != nil {
		_ = n.Stop()
		return err
	}

	metrics.Register()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Errorf("Metrics server failed", err)
		}
	}()

	log.Logger.Info().
		Str("node_id", cfg.NodeID).
		Str("listen_addr", cfg.ListenAddr).
		Str("peer_addr", cfg.PeerListenAddr).
		Int("peers", len(cfg.Peers)).
		Msg("dist-space node running")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")
	srv.Stop()
	transport.Close()
	return n.Stop()
}

// buildConfig merges the optional config file with flag overrides
func buildConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("peer-listen-addr"); v != "" {
		cfg.PeerListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if peers, _ := cmd.Flags().GetStringSlice("peer"); len(peers) > 0 {
		cfg.Peers = nil
		for _, p := range peers {
			id, addr, ok := strings.Cut(p, "=")
			if !ok {
				return cfg, fmt.Errorf("invalid --peer %q, want id=host:port", p)
			}
			cfg.Peers = append(cfg.Peers, config.Peer{NodeID: id, Address: addr})
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

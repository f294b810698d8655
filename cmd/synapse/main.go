// Package main is the entry point for the synapse request broker.
// Synapse sits between callers and a pool of LLM providers: it tracks
// provider health, routes each request to the best available backend,
// and maintains tiered conversational memory across sessions.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/synapse/internal/config"
	"github.com/normanking/synapse/internal/health"
	"github.com/normanking/synapse/internal/logging"
	"github.com/normanking/synapse/internal/memory"
	"github.com/normanking/synapse/internal/orchestrator"
	"github.com/normanking/synapse/internal/provider"
	"github.com/normanking/synapse/internal/router"
	"github.com/normanking/synapse/internal/server"
	"github.com/normanking/synapse/internal/storage"
)

var version = "0.1.0"

var (
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "synapse",
		Short: "Synapse - LLM request broker with health-aware routing and tiered memory",
		Long: `Synapse brokers requests across a pool of LLM providers.

Each request gets conversational context assembled from four memory
tiers, is routed to the best available provider by declared cost and
observed health, and fails over automatically when a provider
misbehaves.

Run the broker:     synapse serve
Show configuration: synapse config show`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.synapse/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("synapse %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			log := logging.New(cfg.Logging)

			session, durable, closeStores, err := buildStores(cfg, log)
			if err != nil {
				return err
			}
			defer closeStores()

			registry, err := provider.Build(cfg.Providers)
			if err != nil {
				return err
			}

			tracker := health.NewTracker(health.Config{
				Window:            cfg.Health.Window,
				ErrorThreshold:    cfg.Health.ErrorThreshold,
				LatencySLA:        cfg.Health.LatencySLA,
				SLABreachWindows:  cfg.Health.SLABreachWindows,
				Cooldown:          cfg.Health.Cooldown,
				MaxCooldown:       cfg.Health.MaxCooldown,
				HalfOpenSuccesses: cfg.Health.HalfOpenSuccesses,
				OnStateChange: func(id string, from, to health.State) {
					log.Warn().
						Str("provider", id).
						Stringer("from", from).
						Stringer("to", to).
						Msg("provider breaker state changed")
				},
			})

			mem := memory.NewManager(memory.Config{
				WorkingCapacity:    cfg.Memory.WorkingCapacity,
				SessionTTL:         cfg.Memory.SessionTTL,
				SummarizeThreshold: cfg.Memory.SummarizeThreshold,
				SummarizeKeep:      cfg.Memory.SummarizeKeep,
				DefaultTokenBudget: cfg.Memory.DefaultTokenBudget,
			}, session, durable,
				memory.WithSummarizer(memory.NewExtractiveSummarizer()),
				memory.WithPromotionPolicy(memory.NewDecisionPolicy()),
				memory.WithLogger(logging.Component(log, "memory")),
			)
			defer mem.Wait()

			rt := router.New(registry, tracker,
				router.WithLogger(logging.Component(log, "router")))
			facade := orchestrator.New(mem, rt,
				orchestrator.WithLogger(logging.Component(log, "orchestrator")))

			srv := server.New(cfg.Server, facade, tracker, registry,
				logging.Component(log, "server"))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("version", version).
				Int("providers", len(cfg.Providers)).
				Str("session_backend", cfg.Storage.SessionBackend).
				Str("durable_backend", cfg.Storage.DurableBackend).
				Msg("synapse starting")

			return srv.Start(ctx)
		},
	}
}

// buildStores wires the Session-tier and durable-tier adapters from
// configuration. With the redis backend the session store becomes a
// hybrid: a local LRU takes every write synchronously and redis absorbs
// them in the background, so a slow network never blocks a turn.
func buildStores(cfg *config.Config, log zerolog.Logger) (storage.Adapter, storage.Adapter, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("store close failed")
			}
		}
	}

	var session storage.Adapter
	switch cfg.Storage.SessionBackend {
	case "", "local":
		local, err := storage.NewLocal(cfg.Storage.LocalCapacity)
		if err != nil {
			return nil, nil, nil, err
		}
		session = local
		closers = append(closers, local.Close)
	case "redis":
		local, err := storage.NewLocal(cfg.Storage.LocalCapacity)
		if err != nil {
			return nil, nil, nil, err
		}
		rds, err := storage.NewRedis(storage.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			local.Close()
			return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		hybrid := storage.NewHybrid(local, rds, logging.Component(log, "storage"))
		session = hybrid
		closers = append(closers, hybrid.Close)
	default:
		return nil, nil, nil, fmt.Errorf("unknown session backend %q", cfg.Storage.SessionBackend)
	}

	var durable storage.Adapter
	switch cfg.Storage.DurableBackend {
	case "", "sqlite":
		sq, err := storage.NewSQLite(cfg.Storage.SQLite.Path)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		durable = sq
		closers = append(closers, sq.Close)
	case "local":
		local, err := storage.NewLocal(cfg.Storage.LocalCapacity)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		durable = local
		closers = append(closers, local.Close)
	default:
		closeAll()
		return nil, nil, nil, fmt.Errorf("unknown durable backend %q", cfg.Storage.DurableBackend)
	}

	return session, durable, closeAll, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			if cfgPath != "" {
				fmt.Println(cfgPath)
				return
			}
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Println("~/.synapse/config.yaml")
				return
			}
			fmt.Println(filepath.Join(home, ".synapse", "config.yaml"))
		},
	})
	return cmd
}

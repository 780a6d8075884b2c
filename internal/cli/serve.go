package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunqar-kz/qoldau/internal/channel"
	"github.com/sunqar-kz/qoldau/internal/config"
	"github.com/sunqar-kz/qoldau/internal/convo"
	"github.com/sunqar-kz/qoldau/internal/dispatch"
	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/ops"
	"github.com/sunqar-kz/qoldau/internal/report"
	"github.com/sunqar-kz/qoldau/internal/store"
	"github.com/sunqar-kz/qoldau/internal/transcode"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		bind    string
		backend string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the support bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Ops.Port = port
			}
			if bind != "" {
				cfg.Ops.Bind = bind
			}
			if backend != "" {
				cfg.Session.Backend = backend
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			log = logging.NewStyled(cfg.Logging.Level, cfg.Logging.Style)

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			// Session storage.
			var (
				sessions dispatch.SessionStore
				archives report.ArchiveLister
				pinger   ops.Pinger
				searcher ops.Searcher
			)
			if cfg.Session.Backend == "sqlite" {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = filepath.Join(paths.Data, "qoldau.db")
				}
				db, err := store.Open(dbPath, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				st := store.NewSQLiteSessionStore(db)
				sessions, archives = st, st
				pinger = db
				searcher = store.NewArchiveStore(db)
				log.Info().Str("path", dbPath).Msg("using SQLite session store")
			} else {
				st := store.NewMemorySessionStore()
				sessions, archives = st, st
				log.Info().Msg("using in-memory session store")
			}

			// Media normalization.
			outDir := cfg.Transcode.OutDir
			if outDir == "" {
				outDir = paths.Media
			}
			transcoder := transcode.New(
				cfg.Transcode.Bin,
				outDir,
				time.Duration(cfg.Transcode.TimeoutSeconds)*time.Second,
				log,
			)

			grace := time.Duration(cfg.Session.GraceMinutes) * time.Minute
			machine := convo.NewMachine(grace)
			bus := ops.NewBus(log)

			registry := channel.NewRegistry(log)
			if lc := cfg.Channels.Loopback; lc != nil && lc.Enabled {
				registry.Register(channel.NewLoopback(lc.ID))
			}

			dispatcher := dispatch.New(dispatch.Config{
				QueueSize:      cfg.Dispatch.QueueSize,
				SendRetries:    cfg.Dispatch.SendRetries,
				PersistRetries: cfg.Dispatch.PersistRetries,
				RetryBackoff:   time.Duration(cfg.Dispatch.BackoffMillis) * time.Millisecond,
				Target: transcode.Params{
					SampleRate: cfg.Transcode.SampleRate,
					Channels:   cfg.Transcode.Channels,
					Container:  cfg.Transcode.Container,
				},
			}, sessions, registry, transcoder, machine, bus, log)
			defer dispatcher.Stop()
			registry.Wire(dispatcher.Enqueue)

			sweeper := dispatch.NewSweeper(sessions, dispatcher, bus, log,
				time.Duration(cfg.Session.SweepSeconds)*time.Second,
				time.Duration(cfg.Session.IdleMinutes)*time.Minute,
				grace,
			)

			reports := report.NewGenerator(archives, log)

			addr := fmt.Sprintf("127.0.0.1:%d", cfg.Ops.Port)
			if cfg.Ops.Bind == "lan" {
				addr = fmt.Sprintf("0.0.0.0:%d", cfg.Ops.Port)
			}
			srv := ops.NewServer(addr, dispatcher, pinger, searcher, registry, reports, bus, log)
			srv.SetAuthToken(cfg.Ops.AuthToken)

			// Block until SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := registry.StartAll(ctx); err != nil {
				return fmt.Errorf("starting channels: %w", err)
			}
			defer registry.StopAll(context.Background())
			go sweeper.Run(ctx)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "ops server port (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "ops bind mode: loopback or lan")
	cmd.Flags().StringVar(&backend, "backend", "", "session store backend: sqlite or memory")

	return cmd
}

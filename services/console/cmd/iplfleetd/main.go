package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"iplfleet/pkg/bus"
	"iplfleet/pkg/db"
	"iplfleet/pkg/s3"
	"iplfleet/pkg/telemetry"
	"iplfleet/services/console"
	"iplfleet/services/deploy"
	"iplfleet/services/fleet"
	"iplfleet/services/ingest"
	"iplfleet/services/netpolicy"
	"iplfleet/services/preflight"
	"iplfleet/services/scheduler"
	"iplfleet/services/sshchan"
)

const serviceName = "iplfleetd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := console.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownOtel, tracing, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := fleet.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect orm")
	}
	defer func() {
		if err := fleet.Close(orm); err != nil {
			log.Error().Err(err).Msg("close orm")
		}
	}()

	repo, err := fleet.NewRepo(orm)
	if err != nil {
		log.Fatal().Err(err).Msg("fleet repo")
	}

	events, err := bus.New(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer events.Close()

	if err := events.EnsureStream(); err != nil {
		log.Fatal().Err(err).Msg("ensure event stream")
	}

	// Every progress event published by this process is consumed back into
	// the operational log, same stream the dashboards read.
	audit, err := events.Subscribe(ctx, bus.SubjectPrefix+">", "iplfleetd-audit", func(_ context.Context, data []byte) error {
		log.Debug().RawJSON("event", data).Msg("progress event")
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe progress events")
	}
	defer audit.Close()

	var rawCount int
	if err := db.Get(ctx, pool, &rawCount, `SELECT COUNT(*) FROM raw_results`); err != nil {
		log.Warn().Err(err).Msg("count raw results")
	} else {
		log.Info().Int("raw_results", rawCount).Msg("results database ready")
	}

	validator, orchestrator := buildCore(cfg, repo, events)

	sched := scheduler.New(log.Logger)
	err = sched.Bootstrap(ctx, repo, func(ctx context.Context, target fleet.Target) error {
		_, err := orchestrator.Run(ctx, []uuid.UUID{target.ID})
		return err
	})
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap scheduler")
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer func() {
		if err := sched.Close(); err != nil {
			log.Error().Err(err).Msg("close scheduler")
		}
	}()

	store, err := ingest.NewPostgresStore(pool)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest store")
	}
	ingestor, err := ingest.NewIngestor(store, cfg.Deploy.ResultsRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestor")
	}

	if cfg.ResultsBucket != "" {
		registerArchiveJob(sched, cfg)
	}

	ui, err := console.New(log.Logger, orchestrator, validator, sched, repo, ingestor)
	if err != nil {
		log.Fatal().Err(err).Msg("console")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler: ui.Routes(console.RouterOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			Tracing:        tracing,
			Health: func(ctx context.Context) error {
				return db.Ping(ctx, pool)
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting iplfleetd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

func buildCore(cfg console.Config, repo *fleet.Repo, events *bus.Bus) (*preflight.Validator, *deploy.Orchestrator) {
	resolver, err := sshchan.NewKeyResolver(console.VaultKeySource(repo), cfg.KeyDir)
	if err != nil {
		log.Fatal().Err(err).Msg("key resolver")
	}
	channel, err := sshchan.NewChannel(resolver)
	if err != nil {
		log.Fatal().Err(err).Msg("ssh channel")
	}

	firewall, err := netpolicy.NewClient(cfg.Netpolicy, nil, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("netpolicy client")
	}
	validator, err := preflight.NewValidator(firewall, channel, events)
	if err != nil {
		log.Fatal().Err(err).Msg("preflight validator")
	}

	manifest, err := deploy.LoadManifest(cfg.Deploy.ManifestPath)
	if err != nil {
		log.Fatal().Err(err).Msg("payload manifest")
	}
	orchestrator, err := deploy.NewOrchestrator(repo, channel, events, manifest, cfg.Deploy)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}

	return validator, orchestrator
}

// registerArchiveJob schedules a nightly pass that uploads every host's
// downloaded results directory to object storage.
func registerArchiveJob(sched *scheduler.Scheduler, cfg console.Config) {
	client, err := s3.NewClientFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("s3 client")
	}
	archiver, err := ingest.NewArchiver(client, cfg.ResultsBucket)
	if err != nil {
		log.Fatal().Err(err).Msg("archiver")
	}

	spec, err := scheduler.ParseSpec("03:00")
	if err != nil {
		log.Fatal().Err(err).Msg("archive schedule")
	}

	task := func(ctx context.Context) error {
		entries, err := os.ReadDir(cfg.Deploy.ResultsRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(cfg.Deploy.ResultsRoot, entry.Name())
			key, err := archiver.ArchiveHost(ctx, entry.Name(), dir)
			if err != nil {
				return err
			}
			url, err := client.PresignGet(ctx, cfg.ResultsBucket, key, 24*time.Hour)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("presign archive")
				url = ""
			}
			log.Info().Str("key", key).Str("url", url).Msg("archived results")
		}
		return nil
	}

	if err := sched.Schedule("archive-results", "archive results root", spec, task, false); err != nil {
		log.Fatal().Err(err).Msg("schedule archive job")
	}
}

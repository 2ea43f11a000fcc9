package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sterling/internal/interfaces/scheduler"
	"sterling/internal/shared/config"
	"sterling/internal/shared/logger"
	"sterling/internal/shared/telemetry"
)

func main() {
	log := logger.New()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
			Logger:       log,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	deps, err := NewDependencies(cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.Config{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			WorkerCount:   cfg.Scheduler.WorkerCount,
			JobDelay:      cfg.Scheduler.JobDelay,
			QueueSize:     cfg.Scheduler.QueueSize,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   dedupJobProvider(deps, cfg, log),
			Logger:        log,
		})
		if err != nil {
			return err
		}

		sched.Start()
		log.Info().Time("next", sched.NextScheduledTime()).Msg("scheduler enabled")
	} else {
		log.Info().Msg("scheduler disabled")
	}

	handler := SetupRoutes(deps, cfg, log)
	srv := StartServer(cfg.Server.Host+":"+cfg.Server.Port, handler, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(srv, sched, 30*time.Second, log)
	return nil
}

// dedupJobProvider builds the nightly job batch: one dedup sweep across
// all institutions.
func dedupJobProvider(deps *Dependencies, cfg *config.Config, log zerolog.Logger) func(context.Context) ([]scheduler.Job, error) {
	return func(ctx context.Context) ([]scheduler.Job, error) {
		return []scheduler.Job{
			scheduler.NewDedupJob(deps.Engine, "", cfg.Scheduler.HealthcheckURL, log),
		}, nil
	}
}

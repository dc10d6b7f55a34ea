package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/monitoring"
	"github.com/sells-group/intel-cli/internal/pipeline"
	"github.com/sells-group/intel-cli/internal/scheduler"
)

const (
	defaultServePort = 8080
	cleanupEvery     = 24 * time.Hour
	shutdownTimeout  = 30 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, run worker, scheduler and health checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		alerter := monitoring.NewAlerter(cfg.Monitoring)

		worker := pipeline.NewWorker(env.Store, env.Pipeline, time.Duration(cfg.Worker.PollSecs)*time.Second)
		worker.Start(ctx)
		defer worker.Stop()

		sched := newScheduler(env, alerter)
		if err := restoreMonitoring(ctx, env, sched); err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()

		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), alerter, env.Store, cfg.Monitoring)
		go checker.Run(ctx)

		port := resolvePort(servePort, cfg.Server)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env, sched, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newScheduler registers the task handlers and the daily cleanup.
func newScheduler(env *appEnv, alerter *monitoring.Alerter) *scheduler.Scheduler {
	var notifier scheduler.Notifier = scheduler.LogNotifier{}
	if cfg.Monitoring.WebhookURL != "" {
		notifier = scheduler.NewWebhookNotifier(cfg.Monitoring.WebhookURL)
	}

	rerun := &scheduler.AutoRerun{
		Store:   env.Store,
		Credits: env.Credits,
		MinAge:  days(cfg.Scheduler.RerunMinAgeDays),
	}
	detect := &scheduler.ChangeDetection{
		Store:    env.Store,
		Detector: monitoring.NewDetector(env.Store, alerter),
	}
	sched := scheduler.New(cfg.Scheduler,
		scheduler.WithHandler(scheduler.KindAutoRerun, rerun),
		scheduler.WithHandler(scheduler.KindChangeDetection, detect),
		scheduler.WithHandler(scheduler.KindEmailNotification, &scheduler.EmailNotification{Notifier: notifier}),
		scheduler.WithHandler(scheduler.KindCleanup, &scheduler.Cleanup{
			Store:  env.Store,
			MaxAge: days(cfg.Scheduler.CleanupMaxAgeDays),
		}),
	)
	rerun.Schedule = sched.Schedule
	detect.Schedule = sched.Schedule
	sched.Schedule(scheduler.Task{Kind: scheduler.KindCleanup, Every: cleanupEvery})
	return sched
}

// restoreMonitoring re-registers projects flagged for monitoring, since the
// task queue lives in memory.
func restoreMonitoring(ctx context.Context, env *appEnv, sched *scheduler.Scheduler) error {
	projects, err := env.Store.ListProjects(ctx)
	if err != nil {
		return eris.Wrap(err, "list projects")
	}
	n := 0
	for _, p := range projects {
		if p.Monitoring {
			sched.ScheduleProjectMonitoring(p.ID)
			n++
		}
	}
	zap.L().Info("monitoring restored", zap.Int("projects", n))
	return nil
}

func resolvePort(flag int, sc config.ServerConfig) int {
	if flag > 0 {
		return flag
	}
	if sc.Port > 0 {
		return sc.Port
	}
	return defaultServePort
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

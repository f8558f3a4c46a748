package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/routes"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/scheduler"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/service"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/tracer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned by `reminders send` when the secret is wrong.
var ErrUnauthorized = errors.New("unauthorized: reminder secret missing or invalid")

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinicflow",
		Short:         "Clinic appointment booking and reminder service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger every command uses.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.WithService(log, cfg.App), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, job workers and (optionally) the reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			return runServer(cmd.Context(), cfg, log)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return err
	}

	m := metrics.NewCollector(cfg.App.Name)
	a, err := newApp(cfg, log, m)
	if err != nil {
		return err
	}
	a.worker.Start(ctx)

	var sched *scheduler.Scheduler
	if cfg.Reminder.SchedulerEnabled {
		sched, err = scheduler.New(cfg.Reminder.CronSpec, a.reminders, cfg.Server.ShutdownTimeout, log.Named("scheduler"))
		if err != nil {
			return err
		}
		sched.Start()
	}

	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.New(routes.Deps{
		Log:            log.Named("http"),
		Metrics:        m,
		MetricsHandler: metrics.MetricsHandler(),
		Tokens:         auth.NewJWTManager(cfg.JWT),
		CORS:           cfg.CORS,
		RateLimit:      cfg.RateLimit,
		CronSecret:     cfg.Reminder.Secret,
		Appointments:   a.appointments,
		Inbox:          a.inbox,
		Reminders:      a.reminders,
		DB:             sqlDB,
		Version:        cfg.App.Version,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if err := a.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}

	log.Info("server stopped")
	return errors.Join(errs...)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.Connect(cfg.Database, log)
			if err != nil {
				return err
			}
			if err := database.Migrate(db, log); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Reminder operations",
	}

	var secret string
	sendCmd := &cobra.Command{
		Use:       "send <24h|1h|30m|default>",
		Short:     "Send reminders for one window, or for the default windows",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"24h", "1h", "30m", "default"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !secretMatches(secret, cfg.Reminder.Secret) {
				log.Warn("reminder run rejected: bad secret")
				return ErrUnauthorized
			}

			var windows []service.Window
			if args[0] != "default" {
				w, err := service.ParseWindow(args[0])
				if err != nil {
					return err
				}
				windows = []service.Window{w}
			}

			return runReminders(cmd.Context(), cfg, log, windows, cmd.OutOrStdout())
		},
	}
	sendCmd.Flags().StringVar(&secret, "secret", "", "shared reminder secret (REMINDER_SECRET)")
	cmd.AddCommand(sendCmd)
	return cmd
}

func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// runReminders runs the given windows, or the default ones when windows is
// empty, and waits for the queued deliveries before returning.
func runReminders(ctx context.Context, cfg *config.Config, log *zap.Logger, windows []service.Window, out io.Writer) error {
	a, err := newApp(cfg, log, metrics.NewCollectorWith(prometheus.NewRegistry(), cfg.App.Name))
	if err != nil {
		return err
	}
	a.worker.Start(ctx)

	var results []service.ReminderResult
	var runErr error
	if len(windows) == 0 {
		results, runErr = a.reminders.SendDefault(ctx)
	} else {
		for _, w := range windows {
			res, err := a.reminders.Send(ctx, w)
			results = append(results, res)
			runErr = errors.Join(runErr, err)
		}
	}

	shutdownCtx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	return runErr
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Access token utilities for local development",
	}

	var (
		userID string
		email  string
		role   string
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access token for the given user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.App.Environment == "production" {
				return errors.New("token issue is disabled in production")
			}

			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			r := domain.Role(role)
			if !r.IsValid() {
				return fmt.Errorf("invalid --role %q", role)
			}

			pair, err := auth.NewJWTManager(cfg.JWT).GenerateTokenPair(&domain.Claims{UserID: id, Email: email, Role: r})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pair)
		},
	}
	issueCmd.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	issueCmd.Flags().StringVar(&email, "email", "", "email claim")
	issueCmd.Flags().StringVar(&role, "role", string(domain.RolePatient), "admin, staff or patient")
	_ = issueCmd.MarkFlagRequired("user")
	cmd.AddCommand(issueCmd)
	return cmd
}

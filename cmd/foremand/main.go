// Command foremand runs a foreman worker against a single queue,
// leasing PENDING jobs from PostgreSQL and executing them over SSH on a
// configured remote host.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foreman-run/foreman"
	"github.com/foreman-run/foreman/config"
	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/queue"
	"github.com/foreman-run/foreman/remote"
	"github.com/foreman-run/foreman/storage"
)

var version = "0.1.0-dev"

var (
	configPath  string
	stopTimeout time.Duration

	enqueueJobName     string
	enqueuePriority    int
	enqueueMaxAttempts int
	enqueueTimeout     time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "foremand",
		Short: "foremand runs a foreman worker for a single queue",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Lease and execute jobs from a queue until interrupted",
		RunE:  runWorker,
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "how long to wait for in-flight jobs on shutdown")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job, queue and job_log tables",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	enqueueCmd := &cobra.Command{
		Use:   "enqueue [command] [args...]",
		Short: "Add a single job to a queue",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEnqueue,
	}
	enqueueCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	enqueueCmd.Flags().StringVar(&enqueueJobName, "name", "", "job name (defaults to the command)")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "lower runs first")
	enqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 0, "0 uses the queue default")
	enqueueCmd.Flags().DurationVar(&enqueueTimeout, "timeout", 0, "0 means no timeout")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the foremand version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, migrateCmd, enqueueCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("foremand: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return config.Config{}, fmt.Errorf("foremand: database url is required (set FOREMAN_DATABASE_URL or databaseUrl in config)")
	}
	if cfg.SSH.Host == "" {
		return config.Config{}, fmt.Errorf("foremand: ssh host is required (set FOREMAN_SSH_HOST or ssh.host in config)")
	}
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := storage.Open(cfg.DatabaseURL, cfg.MaxOpenConns())
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	defer st.Close()

	if err := storage.InitDB(cmd.Context(), st.DB()); err != nil {
		return fmt.Errorf("foremand: migrate: %w", err)
	}
	fmt.Println("schema is up to date")
	return nil
}

func newObserver(log *slog.Logger) *foreman.Observer {
	return &foreman.Observer{
		JobStarted: func(j *job.Job) {
			log.Info("job started", "id", j.Id, "name", j.Name)
		},
		JobCompleted: func(j *job.Job) {
			log.Info("job completed", "id", j.Id, "name", j.Name)
		},
		JobFailed: func(j *job.Job, err error) {
			log.Warn("job failed", "id", j.Id, "name", j.Name, "status", j.Status, "err", err)
		},
		JobStalled: func(jobs []*job.Job) {
			log.Warn("jobs stalled", "count", len(jobs))
		},
		QueuePaused: func(q *queue.Queue) {
			log.Info("queue paused", "name", q.Name)
		},
		QueueResumed: func(q *queue.Queue) {
			log.Info("queue resumed", "name", q.Name)
		},
	}
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("foremand: database url is required (set FOREMAN_DATABASE_URL or databaseUrl in config)")
	}

	st, err := storage.Open(cfg.DatabaseURL, cfg.MaxOpenConns())
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if err := storage.InitDB(ctx, st.DB()); err != nil {
		return fmt.Errorf("foremand: %w", err)
	}

	q, err := foreman.NewQueue(ctx, st, cfg.QueueName, nil)
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}

	command := args[0]
	cmdArgs := args[1:]
	name := enqueueJobName
	if name == "" {
		name = command
	}

	j, err := q.Add(ctx, name, command, cmdArgs, job.Options{
		Priority:    enqueuePriority,
		MaxAttempts: enqueueMaxAttempts,
		Timeout:     enqueueTimeout,
	})
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	fmt.Printf("enqueued job %d (%s)\n", j.Id, j.Name)
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.SSH.Validate(); err != nil {
		return fmt.Errorf("foremand: %w", err)
	}

	st, err := storage.Open(cfg.DatabaseURL, cfg.MaxOpenConns())
	if err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if err := storage.InitDB(ctx, st.DB()); err != nil {
		return fmt.Errorf("foremand: %w", err)
	}

	executor := remote.NewExecutor(cfg.RemoteConfig())

	w := foreman.NewWorker(st, executor, foreman.WorkerConfig{
		QueueName:      cfg.QueueName,
		Concurrency:    cfg.Concurrency,
		QueueSize:      cfg.QueueSize,
		PollInterval:   cfg.PollInterval,
		StalledTimeout: cfg.StalledTimeout,
		DatabaseURL:    cfg.DatabaseURL,
	}, newObserver(log), log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := w.Start(runCtx); err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	log.Info("worker started", "queue", cfg.QueueName, "concurrency", cfg.Concurrency)

	<-runCtx.Done()

	log.Info("stopping worker")
	if err := w.Stop(stopTimeout); err != nil {
		return fmt.Errorf("foremand: %w", err)
	}
	return nil
}

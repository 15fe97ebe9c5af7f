package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/config"
	"github.com/ilovetoast/brandlens/internal/queue"
)

// The scheduler process emits the periodic recovery-scan task. It runs as
// its own binary so exactly one instance owns the cron schedule.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		nil,
	)

	task := asynq.NewTask(queue.TypeRecoveryScan, nil)
	entryID, err := scheduler.Register(cfg.Pipeline.RecoveryCron, task, asynq.Queue("low"))
	if err != nil {
		slog.Error("failed to register recovery scan", "error", err)
		os.Exit(1)
	}

	slog.Info("recovery scan scheduled",
		"entry_id", entryID,
		"cron", cfg.Pipeline.RecoveryCron,
	)

	if err := scheduler.Run(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"schoolhub/internal/attendance"
	"schoolhub/internal/config"
	"schoolhub/internal/logging"
	"schoolhub/internal/notify"
	"schoolhub/internal/queue"
	"schoolhub/internal/store"
)

// Worker consumes attendance events, writes notifications, and purges
// stale ones on a timer.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "schoolhub:events")
	}

	notifications := notify.NewStore(db.Client)

	// Periodic cleanup of old notifications.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				retentionDays := cfg.NotifyRetention.Hours() / 24
				removed, err := notifications.PurgeOlderThan(ctx, retentionDays)
				if err != nil {
					logger.Error("notification purge failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("purged notifications", zap.Int64("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for events")
	for msg := range messages {
		var evt attendance.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			logger.Warn("malformed event", zap.String("type", msg.Type), zap.Error(err))
			continue
		}

		var message string
		switch msg.Type {
		case attendance.EventAbsentMarked:
			message = fmt.Sprintf("You were marked absent for %s.", evt.Date)
		case attendance.EventRecorded:
			message = fmt.Sprintf("Your attendance for %s was recorded.", evt.Date)
		default:
			continue
		}

		if err := notifications.Insert(ctx, evt.UserID, message); err != nil {
			logger.Error("notification insert failed",
				zap.String("user_id", evt.UserID),
				zap.String("record_id", evt.RecordID),
				zap.Error(err))
			continue
		}
		logger.Debug("notification written",
			zap.String("user_id", evt.UserID),
			zap.String("type", msg.Type))
	}

	logger.Info("worker stopped")
}

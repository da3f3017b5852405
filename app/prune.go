package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/seopulse/gateway/app/config"
	"github.com/seopulse/gateway/app/database"
	slogctx "github.com/veqryn/slog-context"
)

// Delete audit rows (jobs, tasks, SERPs, results) once they age past the
// configured retention window. Keywords and their profiles are never pruned.
func startPruneJob(db database.Database, config *config.Config) {

	if !config.Retention.Enabled {
		return
	}

	scheduler, err := gocron.NewScheduler()

	if err != nil {
		panic(fmt.Sprintf("Failed to create gocron scheduler: %v", err))
	}

	maxAge := time.Duration(config.Retention.MaxAgeDays) * 24 * time.Hour

	{
		_, err := scheduler.NewJob(gocron.DurationJob(time.Duration(config.Retention.SweepMinutes)*time.Minute), gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			err := db.PruneOlderThan(ctx, maxAge)

			if err != nil {
				slogctx.Error(ctx, "Error pruning expired audit records", "error", err)
			}
		}))

		if err != nil {
			panic(fmt.Sprintf("Failed to create gocron job: %v\n", err))
		}
	}

	scheduler.Start()
}

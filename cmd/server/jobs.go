package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"welfare/internal/application/orchestrators"
)

// startJobs schedules background maintenance. Callers Stop the returned scheduler.
func startJobs(ctx context.Context, purgeSpec string, purge orchestrators.PurgeSessionsDeps) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(purgeSpec, func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := orchestrators.ExecutePurgeSessions(jobCtx, purge); err != nil {
			log.Error().Err(err).Msg("session_purge_failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule session purge %q: %w", purgeSpec, err)
	}
	c.Start()
	return c, nil
}

package farmproof

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Jobs runs the periodic pipeline: anchor yesterday, age-based retention,
// and the selective-purge sweep. A failed tick logs and leaves state
// untouched; the next tick retries from scratch. A single active scheduler
// instance is assumed.
type Jobs struct {
	anchorer *Anchorer
	purge    *PurgeEngine
	cfg      Config
	log      *slog.Logger
}

func NewJobs(anchorer *Anchorer, purge *PurgeEngine, cfg Config, log *slog.Logger) *Jobs {
	if log == nil {
		log = slog.Default()
	}
	return &Jobs{anchorer: anchorer, purge: purge, cfg: cfg, log: log}
}

// Start registers the cron entries and starts the scheduler. The caller
// owns the returned cron and stops it on shutdown.
//
//	*/5 * * * *  anchor yesterday (idempotent; cheap once anchored)
//	0 2 * * *    age-based retention sweep
//	30 3 * * *   fleet-wide selective purge
func (j *Jobs) Start() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc("*/5 * * * *", j.anchorYesterday); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("0 2 * * *", j.retentionSweep); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("30 3 * * *", j.selectivePurge); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (j *Jobs) anchorYesterday() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	dayKey := Yesterday(time.Now())
	if _, _, err := j.anchorer.AnchorDay(ctx, dayKey); err != nil {
		j.log.Error("anchor tick failed", "dayKey", dayKey, "error", err)
	}
}

func (j *Jobs) retentionSweep() {
	if _, err := j.purge.RetentionSweep(j.cfg.RetentionDays, time.Now()); err != nil {
		j.log.Error("retention tick failed", "error", err)
	}
}

func (j *Jobs) selectivePurge() {
	if _, err := j.purge.RunAllFarmersWindow(j.cfg.VerifyWindowDays); err != nil {
		j.log.Error("selective purge tick failed", "error", err)
	}
}

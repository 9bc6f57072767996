package farmproof

import (
	"fmt"
	"log/slog"
	"time"
)

// PurgeEngine turns verification verdicts into retention decisions: clean
// days are hard-deleted, tampered days are preserved as evidence, pending
// days are deferred.
type PurgeEngine struct {
	store    Store
	verifier *Verifier
	log      *slog.Logger
}

func NewPurgeEngine(store Store, verifier *Verifier, log *slog.Logger) *PurgeEngine {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeEngine{store: store, verifier: verifier, log: log}
}

// DayAction reports what one window pass did for one day.
type DayAction struct {
	DayKey  string        `json:"dayKey"`
	Action  string        `json:"action"`
	Deleted int64         `json:"deleted,omitempty"`
	Details *AuditDetails `json:"details,omitempty"`
}

// FarmerReport is the outcome of one selective-purge window for one farmer.
type FarmerReport struct {
	FarmerID string      `json:"farmerId"`
	Window   []string    `json:"window"`
	Actions  []DayAction `json:"actions"`
}

// LastNDayKeys returns the dayKeys of the n calendar days before now's UTC
// date, oldest first. Today is excluded: its bucket is still accumulating.
func LastNDayKeys(n int, now time.Time) []string {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	keys := make([]string, 0, n)
	for i := n; i >= 1; i-- {
		keys = append(keys, DayKey(start.AddDate(0, 0, -i)))
	}
	return keys
}

// RunFarmerWindow verifies and acts on each of the last `days` days for
// one farmer. Re-running is idempotent: audits are upserts, and a day
// already purged to empty verifies as no-data and produces no churn.
func (p *PurgeEngine) RunFarmerWindow(farmerID string, days int) (FarmerReport, error) {
	window := LastNDayKeys(days, time.Now())
	report := FarmerReport{FarmerID: farmerID, Window: window}

	for _, dayKey := range window {
		verdict, err := p.verifier.VerifyFarmerDay(farmerID, dayKey)
		if err != nil {
			// Err toward preservation: an evaluation that cannot complete
			// deletes nothing.
			return report, fmt.Errorf("verify %s/%s: %w", farmerID, dayKey, err)
		}
		action, err := p.apply(farmerID, dayKey, verdict)
		if err != nil {
			return report, err
		}
		report.Actions = append(report.Actions, action)
	}
	return report, nil
}

// apply dispatches on the closed verdict set. An unknown status is an
// error, never a silent no-op.
func (p *PurgeEngine) apply(farmerID, dayKey string, verdict Verdict) (DayAction, error) {
	switch verdict.Status {
	case StatusClean:
		deleted, err := p.store.DeleteFarmerDay(farmerID, dayKey)
		if err != nil {
			return DayAction{}, fmt.Errorf("purge %s/%s: %w", farmerID, dayKey, err)
		}
		if err := p.store.UpsertAudit(FarmerDayAudit{
			FarmerID: farmerID,
			DayKey:   dayKey,
			Status:   AuditCleanPurged,
			Details:  &AuditDetails{DeletedCount: deleted},
		}); err != nil {
			return DayAction{}, err
		}
		p.log.Info("purged clean day", "farmerId", farmerID, "dayKey", dayKey, "deleted", deleted)
		return DayAction{DayKey: dayKey, Action: "purged", Deleted: deleted}, nil

	case StatusKeptTampered:
		if err := p.store.UpsertAudit(FarmerDayAudit{
			FarmerID: farmerID,
			DayKey:   dayKey,
			Status:   AuditKeptTampered,
			Details:  verdict.Details,
		}); err != nil {
			return DayAction{}, err
		}
		p.log.Warn("record tamper detected, readings preserved",
			"farmerId", farmerID, "dayKey", dayKey, "details", verdict.Details)
		return DayAction{DayKey: dayKey, Action: "kept_farmer_tampered", Details: verdict.Details}, nil

	case StatusGlobalTamper:
		if err := p.store.UpsertAudit(FarmerDayAudit{
			FarmerID: farmerID,
			DayKey:   dayKey,
			Status:   AuditGlobalTamper,
			Details:  verdict.Details,
		}); err != nil {
			return DayAction{}, err
		}
		p.log.Warn("day-level tamper detected, readings preserved",
			"farmerId", farmerID, "dayKey", dayKey)
		return DayAction{DayKey: dayKey, Action: "kept_global_tamper", Details: verdict.Details}, nil

	case StatusPendingAnchor:
		if err := p.store.UpsertAudit(FarmerDayAudit{
			FarmerID: farmerID,
			DayKey:   dayKey,
			Status:   AuditPendingAnchor,
		}); err != nil {
			return DayAction{}, err
		}
		return DayAction{DayKey: dayKey, Action: "pending_anchor"}, nil

	case StatusCleanNoData:
		return DayAction{DayKey: dayKey, Action: "no_data"}, nil
	}
	return DayAction{}, fmt.Errorf("unhandled day status %v for %s/%s", verdict.Status, farmerID, dayKey)
}

// RunAllFarmersWindow runs the selective-purge window for every known
// farmer. Farmer partitions are disjoint, so one farmer's failure does not
// abort the rest; the first error is reported after the sweep.
func (p *PurgeEngine) RunAllFarmersWindow(days int) ([]FarmerReport, error) {
	farmers, err := p.store.FarmerIDs()
	if err != nil {
		return nil, err
	}
	var reports []FarmerReport
	var firstErr error
	for _, id := range farmers {
		report, err := p.RunFarmerWindow(id, days)
		if err != nil {
			p.log.Error("selective purge failed for farmer", "farmerId", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reports = append(reports, report)
	}
	return reports, firstErr
}

// RetentionSweep deletes readings older than retentionDays outright,
// independent of verification. Days already flagged tampered are exempt
// (evidence preservation wins over the coarse cutoff). retentionDays <= 0
// disables the sweep.
func (p *PurgeEngine) RetentionSweep(retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	deleted, err := p.store.DeleteReadingsBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.log.Info("retention sweep removed old readings", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

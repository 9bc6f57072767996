package farmproof

// TrustScore reduces a farmer's audit history to a ratio in [0,1]: clean
// purged days over all conclusively evaluated days. Pending days carry no
// evidence either way and are excluded. With no conclusive records the
// score defaults to 1.0.
func TrustScore(records []FarmerDayAudit) float64 {
	var clean, conclusive int
	for _, r := range records {
		switch r.Status {
		case AuditCleanPurged:
			clean++
			conclusive++
		case AuditKeptTampered, AuditGlobalTamper:
			conclusive++
		}
	}
	if conclusive == 0 {
		return 1.0
	}
	return float64(clean) / float64(conclusive)
}

// TamperSummary condenses a farmer's audit history for dashboards.
type TamperSummary struct {
	TrustScore     float64 `json:"trustScore"`
	TamperedCount  int     `json:"tamperedCount"`
	LastTamperDay  string  `json:"lastTamperDay,omitempty"`
	LastTamperKind string  `json:"lastTamperKind,omitempty"`
}

// Summarize computes the trust score and tamper counts over audit records
// ordered by dayKey ascending.
func Summarize(records []FarmerDayAudit) TamperSummary {
	s := TamperSummary{TrustScore: TrustScore(records)}
	for _, r := range records {
		if r.Status.Tampered() {
			s.TamperedCount++
			s.LastTamperDay = r.DayKey
			s.LastTamperKind = string(r.Status)
		}
	}
	return s
}

// Package farmproof is a tamper-evident audit layer for device-submitted
// sensor readings. Each day's readings are summarized into a Merkle root,
// the root is attested by independent witnesses and persisted as an Anchor,
// and stored readings are later re-verified against the anchor. Days that
// verify clean are purged; detected tampering is preserved as evidence.
package farmproof

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reading is one sensor submission, hashed once at ingest and never mutated.
type Reading struct {
	ID       string          `json:"id"`
	FarmerID string          `json:"farmerId"`
	DeviceID string          `json:"deviceId"`
	DayKey   string          `json:"dayKey"`
	TS       time.Time       `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
	LeafHash string          `json:"leafHash"`
}

// WitnessSignature is one witness attestation over a day's Merkle root.
type WitnessSignature struct {
	WitnessURL string `json:"witnessUrl"`
	PublicKey  string `json:"publicKey"` // hex-encoded ed25519 public key
	Signature  string `json:"signature"` // hex-encoded ed25519 signature
}

// TamperInfo is the diagnostic attached to an anchor on a detected
// day-level mismatch.
type TamperInfo struct {
	Reason       string `json:"reason"`
	ComputedRoot string `json:"computedRoot,omitempty"`
}

// Anchor is the witnessed Merkle root for one day. At most one anchor may
// ever exist per dayKey. It is immutable after creation, except for a single
// in-place flip of Tampered/TamperInfo when a later global verification
// finds a root mismatch.
type Anchor struct {
	DayKey     string             `json:"dayKey"`
	MerkleRoot string             `json:"merkleRoot"`
	Signatures []WitnessSignature `json:"signatures"`
	QuorumMet  bool               `json:"quorumMet"`
	Tampered   bool               `json:"tampered"`
	TamperInfo *TamperInfo        `json:"tamperInfo,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// DayStatus is the closed set of verification verdicts for one (farmer, day).
type DayStatus int

const (
	// StatusPendingAnchor means the day is not yet evaluable: no anchor
	// exists, or no leaves remain to check against it.
	StatusPendingAnchor DayStatus = iota
	// StatusClean means every stored reading re-hashed to its recorded
	// leaf and the recomputed root matched the anchor.
	StatusClean
	// StatusCleanNoData means the farmer has no readings for the day.
	StatusCleanNoData
	// StatusKeptTampered means at least one of the farmer's readings no
	// longer hashes to its stored leaf digest.
	StatusKeptTampered
	// StatusGlobalTamper means the day's recomputed root differs from the
	// anchored root; no farmer subset of that day can be certified.
	StatusGlobalTamper
)

func (s DayStatus) String() string {
	switch s {
	case StatusPendingAnchor:
		return "pending_anchor"
	case StatusClean:
		return "clean"
	case StatusCleanNoData:
		return "clean_no_data"
	case StatusKeptTampered:
		return "kept_tampered"
	case StatusGlobalTamper:
		return "global_tamper"
	}
	return fmt.Sprintf("DayStatus(%d)", int(s))
}

// AuditDetails carries the diagnostic payload of a verdict or audit record.
type AuditDetails struct {
	Reason       string `json:"reason,omitempty"`
	ReadingID    string `json:"readingId,omitempty"`
	ComputedRoot string `json:"computedRoot,omitempty"`
	AnchorRoot   string `json:"anchorRoot,omitempty"`
	DeletedCount int64  `json:"deletedCount,omitempty"`
}

// Verdict is the outcome of verifying one (farmer, day).
type Verdict struct {
	Status  DayStatus
	Details *AuditDetails
}

// AuditStatus is the durable status recorded in a FarmerDayAudit.
// Unlike DayStatus it never takes the transient "clean"/"clean_no_data"
// values: a clean day is recorded as purged, a dataless day not at all.
type AuditStatus string

const (
	AuditCleanPurged   AuditStatus = "clean_purged"
	AuditKeptTampered  AuditStatus = "kept_tampered"
	AuditPendingAnchor AuditStatus = "pending_anchor"
	AuditGlobalTamper  AuditStatus = "global_tamper"
)

// Tampered reports whether the status records detected tampering.
func (s AuditStatus) Tampered() bool {
	return s == AuditKeptTampered || s == AuditGlobalTamper
}

// FarmerDayAudit is the durable audit trail entry for one (farmer, day),
// upserted on every verification+purge pass and never deleted.
type FarmerDayAudit struct {
	FarmerID  string        `json:"farmerId"`
	DayKey    string        `json:"dayKey"`
	Status    AuditStatus   `json:"status"`
	Details   *AuditDetails `json:"details,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Device maps a device identifier to its owning farmer. Registration beyond
// this mapping (users, sessions) lives outside this module.
type Device struct {
	DeviceID string `json:"deviceId"`
	FarmerID string `json:"farmerId"`
	Label    string `json:"label,omitempty"`
}

// ErrUnknownDevice is returned when an ingest names a device that is not
// registered.
var ErrUnknownDevice = errors.New("unknown device")

// Store abstracts persistence for readings, anchors, audits, and the
// device registry.
type Store interface {
	// InsertReading persists one reading.
	InsertReading(r Reading) error
	// LeafHashes returns the leaf digests of every reading for dayKey,
	// in stored order.
	LeafHashes(dayKey string) ([]string, error)
	// FarmerReadings returns all readings for (farmerID, dayKey) in
	// stored order.
	FarmerReadings(farmerID, dayKey string) ([]Reading, error)
	// DeleteFarmerDay hard-deletes all readings for (farmerID, dayKey)
	// and reports how many were removed.
	DeleteFarmerDay(farmerID, dayKey string) (int64, error)
	// DeleteReadingsBefore deletes readings with TS older than cutoff.
	// Readings on (farmer, day) pairs whose audit records tampering are
	// exempt: detected evidence outlives the coarse age cutoff.
	DeleteReadingsBefore(cutoff time.Time) (int64, error)

	// CreateAnchor inserts the anchor if no anchor exists for its dayKey.
	// Returns false when one already existed; the insert is atomic, so
	// concurrent callers cannot both create.
	CreateAnchor(a Anchor) (bool, error)
	// AnchorFor returns the anchor for dayKey, if any.
	AnchorFor(dayKey string) (Anchor, bool, error)
	// AnchorsFor returns the anchors present among dayKeys, keyed by day.
	AnchorsFor(dayKeys []string) (map[string]Anchor, error)
	// MarkAnchorTampered flips the anchor's tampered flag and records the
	// diagnostic. This is the only permitted anchor mutation.
	MarkAnchorTampered(dayKey string, info TamperInfo) error

	// UpsertAudit creates or overwrites the audit record keyed by
	// (FarmerID, DayKey).
	UpsertAudit(a FarmerDayAudit) error
	// FarmerAudits returns a farmer's audit records ordered by dayKey.
	FarmerAudits(farmerID string) ([]FarmerDayAudit, error)

	// RegisterDevice adds a device; returns false if the deviceID is taken.
	RegisterDevice(d Device) (bool, error)
	// DeviceByID resolves a deviceID to its registration.
	DeviceByID(deviceID string) (Device, bool, error)
	// Devices lists registered devices, optionally filtered by farmer.
	Devices(farmerID string) ([]Device, error)
	// RemoveDevice deletes a registration; returns false when absent.
	RemoveDevice(deviceID string) (bool, error)
	// FarmerIDs lists every farmer known from devices or readings.
	FarmerIDs() ([]string, error)

	Close() error
}

package farmproof

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

const storeOpTimeout = 5 * time.Second

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS readings (
  id        TEXT PRIMARY KEY,
  farmer_id TEXT    NOT NULL,
  device_id TEXT    NOT NULL,
  day_key   TEXT    NOT NULL,
  ts        INTEGER NOT NULL,   -- unix nanos
  payload   BLOB    NOT NULL,
  leaf_hash TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_day        ON readings(day_key);
CREATE INDEX IF NOT EXISTS readings_farmer_day ON readings(farmer_id, day_key);
CREATE INDEX IF NOT EXISTS readings_ts         ON readings(ts);
CREATE TABLE IF NOT EXISTS anchors (
  day_key     TEXT PRIMARY KEY,
  merkle_root TEXT    NOT NULL,
  signatures  TEXT    NOT NULL,  -- JSON array of witness signatures
  quorum_met  INTEGER NOT NULL,
  tampered    INTEGER NOT NULL DEFAULT 0,
  tamper_info TEXT,
  created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS audits (
  farmer_id  TEXT NOT NULL,
  day_key    TEXT NOT NULL,
  status     TEXT NOT NULL,
  details    TEXT,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (farmer_id, day_key)
);
CREATE TABLE IF NOT EXISTS devices (
  device_id TEXT PRIMARY KEY,
  farmer_id TEXT NOT NULL,
  label     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS devices_farmer ON devices(farmer_id);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeOpTimeout)
}

func (s *sqliteStore) InsertReading(r Reading) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings(id, farmer_id, device_id, day_key, ts, payload, leaf_hash)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FarmerID, r.DeviceID, r.DayKey, r.TS.UnixNano(), []byte(r.Payload), r.LeafHash)
	return err
}

// LeafHashes returns the day's leaf digests in insertion (rowid) order,
// the same order the anchor root was computed over.
func (s *sqliteStore) LeafHashes(dayKey string) ([]string, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT leaf_hash FROM readings WHERE day_key=? ORDER BY rowid ASC`, dayKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FarmerReadings(farmerID, dayKey string) ([]Reading, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, farmer_id, device_id, day_key, ts, payload, leaf_hash
		 FROM readings WHERE farmer_id=? AND day_key=? ORDER BY rowid ASC`,
		farmerID, dayKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReading(rows *sql.Rows) (Reading, error) {
	var r Reading
	var ts int64
	var payload []byte
	if err := rows.Scan(&r.ID, &r.FarmerID, &r.DeviceID, &r.DayKey, &ts, &payload, &r.LeafHash); err != nil {
		return Reading{}, err
	}
	r.TS = time.Unix(0, ts).UTC()
	r.Payload = json.RawMessage(payload)
	return r, nil
}

func (s *sqliteStore) DeleteFarmerDay(farmerID, dayKey string) (int64, error) {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE farmer_id=? AND day_key=?`, farmerID, dayKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteReadingsBefore removes readings older than cutoff, except those on
// (farmer, day) pairs already flagged tampered in the audit trail.
func (s *sqliteStore) DeleteReadingsBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE ts < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM audits a
		     WHERE a.farmer_id = readings.farmer_id
		       AND a.day_key   = readings.day_key
		       AND a.status IN (?, ?)
		   )`,
		cutoff.UnixNano(), string(AuditKeptTampered), string(AuditGlobalTamper))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateAnchor is an atomic insert-if-absent keyed by day_key: a plain
// existence check followed by an insert would race under concurrent
// scheduler ticks.
func (s *sqliteStore) CreateAnchor(a Anchor) (bool, error) {
	sigs, err := json.Marshal(a.Signatures)
	if err != nil {
		return false, err
	}
	var info any
	if a.TamperInfo != nil {
		b, err := json.Marshal(a.TamperInfo)
		if err != nil {
			return false, err
		}
		info = string(b)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors(day_key, merkle_root, signatures, quorum_met, tampered, tamper_info, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(day_key) DO NOTHING`,
		a.DayKey, a.MerkleRoot, string(sigs), boolInt(a.QuorumMet), boolInt(a.Tampered), info, createdAt.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) AnchorFor(dayKey string) (Anchor, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT day_key, merkle_root, signatures, quorum_met, tampered, tamper_info, created_at
		 FROM anchors WHERE day_key=?`, dayKey)
	a, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Anchor{}, false, nil
	}
	if err != nil {
		return Anchor{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) AnchorsFor(dayKeys []string) (map[string]Anchor, error) {
	out := make(map[string]Anchor, len(dayKeys))
	for _, k := range dayKeys {
		a, ok, err := s.AnchorFor(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = a
		}
	}
	return out, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanAnchor(row rowScanner) (Anchor, error) {
	var a Anchor
	var sigs string
	var quorum, tampered int
	var info sql.NullString
	var createdAt int64
	if err := row.Scan(&a.DayKey, &a.MerkleRoot, &sigs, &quorum, &tampered, &info, &createdAt); err != nil {
		return Anchor{}, err
	}
	if err := json.Unmarshal([]byte(sigs), &a.Signatures); err != nil {
		return Anchor{}, fmt.Errorf("decode signatures for %s: %w", a.DayKey, err)
	}
	a.QuorumMet = quorum != 0
	a.Tampered = tampered != 0
	if info.Valid && info.String != "" {
		var ti TamperInfo
		if err := json.Unmarshal([]byte(info.String), &ti); err != nil {
			return Anchor{}, fmt.Errorf("decode tamper info for %s: %w", a.DayKey, err)
		}
		a.TamperInfo = &ti
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return a, nil
}

func (s *sqliteStore) MarkAnchorTampered(dayKey string, info TamperInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE anchors SET tampered=1, tamper_info=? WHERE day_key=?`,
		string(b), dayKey)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no anchor for day %s", dayKey)
	}
	return nil
}

func (s *sqliteStore) UpsertAudit(a FarmerDayAudit) error {
	var details any
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audits(farmer_id, day_key, status, details, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(farmer_id, day_key) DO UPDATE SET
		   status=excluded.status, details=excluded.details, updated_at=excluded.updated_at`,
		a.FarmerID, a.DayKey, string(a.Status), details, updatedAt.UnixNano())
	return err
}

func (s *sqliteStore) FarmerAudits(farmerID string) ([]FarmerDayAudit, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT farmer_id, day_key, status, details, updated_at
		 FROM audits WHERE farmer_id=? ORDER BY day_key ASC`, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FarmerDayAudit
	for rows.Next() {
		var a FarmerDayAudit
		var status string
		var details sql.NullString
		var updatedAt int64
		if err := rows.Scan(&a.FarmerID, &a.DayKey, &status, &details, &updatedAt); err != nil {
			return nil, err
		}
		a.Status = AuditStatus(status)
		if details.Valid && details.String != "" {
			var d AuditDetails
			if err := json.Unmarshal([]byte(details.String), &d); err != nil {
				return nil, fmt.Errorf("decode audit details for %s/%s: %w", a.FarmerID, a.DayKey, err)
			}
			a.Details = &d
		}
		a.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RegisterDevice(d Device) (bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(device_id, farmer_id, label) VALUES(?, ?, ?)
		 ON CONFLICT(device_id) DO NOTHING`,
		d.DeviceID, d.FarmerID, d.Label)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) DeviceByID(deviceID string) (Device, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var d Device
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, farmer_id, label FROM devices WHERE device_id=?`,
		deviceID).Scan(&d.DeviceID, &d.FarmerID, &d.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, err
	}
	return d, true, nil
}

func (s *sqliteStore) Devices(farmerID string) ([]Device, error) {
	ctx, cancel := opCtx()
	defer cancel()
	query := `SELECT device_id, farmer_id, label FROM devices ORDER BY device_id ASC`
	args := []any{}
	if farmerID != "" {
		query = `SELECT device_id, farmer_id, label FROM devices WHERE farmer_id=? ORDER BY device_id ASC`
		args = append(args, farmerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.FarmerID, &d.Label); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveDevice(deviceID string) (bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id=?`, deviceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) FarmerIDs() ([]string, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT farmer_id FROM devices
		 UNION SELECT farmer_id FROM readings
		 ORDER BY farmer_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

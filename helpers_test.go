package farmproof

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustRegister(t *testing.T, store Store, deviceID, farmerID string) {
	t.Helper()
	created, err := store.RegisterDevice(Device{DeviceID: deviceID, FarmerID: farmerID})
	if err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}
	if !created {
		t.Fatalf("device %s already registered", deviceID)
	}
}

func mustIngest(t *testing.T, store Store, deviceID, payload string, ts time.Time) Reading {
	t.Helper()
	r, err := Ingest(store, deviceID, json.RawMessage(payload), ts)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return r
}

// anchorDirect persists an anchor for dayKey from the store's current
// leaves, without witnesses.
func anchorDirect(t *testing.T, store Store, dayKey string) Anchor {
	t.Helper()
	leaves, err := store.LeafHashes(dayKey)
	if err != nil {
		t.Fatalf("LeafHashes failed: %v", err)
	}
	if len(leaves) == 0 {
		t.Fatalf("no leaves for %s", dayKey)
	}
	a := Anchor{DayKey: dayKey, MerkleRoot: BuildRoot(leaves)}
	created, err := store.CreateAnchor(a)
	if err != nil {
		t.Fatalf("CreateAnchor failed: %v", err)
	}
	if !created {
		t.Fatalf("anchor for %s already exists", dayKey)
	}
	return a
}

// corruptPayload rewrites a stored reading's payload without touching its
// leaf digest, simulating record-level tampering.
func corruptPayload(t *testing.T, store Store, readingID, payload string) {
	t.Helper()
	s := store.(*sqliteStore)
	res, err := s.db.Exec(`UPDATE readings SET payload=? WHERE id=?`, []byte(payload), readingID)
	if err != nil {
		t.Fatalf("corrupt payload: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("corrupt payload: reading %s not found", readingID)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// yesterdayNoon returns a timestamp that buckets into yesterday's dayKey,
// comfortably inside purge windows.
func yesterdayNoon() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func sensorPayload(sample int, ts time.Time) string {
	return fmt.Sprintf(`{"timestamp":%q,"moisture":%d,"unit":"pct"}`, ts.Format(time.RFC3339), sample)
}

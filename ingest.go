package farmproof

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyPayload is returned when an ingest carries no payload.
var ErrEmptyPayload = errors.New("payload required")

// Ingest resolves the device, hashes the payload, and stores the reading.
// The leaf digest is computed exactly once, here; it is never recomputed in
// place. A payload-level "timestamp" field (RFC 3339) drives the day
// bucket; otherwise the reading is bucketed at ingest time. Rejected
// ingests create no partial state.
func Ingest(store Store, deviceID string, payload json.RawMessage, now time.Time) (Reading, error) {
	if len(payload) == 0 {
		return Reading{}, ErrEmptyPayload
	}
	device, ok, err := store.DeviceByID(deviceID)
	if err != nil {
		return Reading{}, err
	}
	if !ok {
		return Reading{}, ErrUnknownDevice
	}

	leaf, err := LeafHashRaw(payload)
	if err != nil {
		return Reading{}, err
	}
	ts := now.UTC()
	if pts, ok := PayloadTimestamp(payload); ok {
		ts = pts.UTC()
	}

	r := Reading{
		ID:       uuid.NewString(),
		FarmerID: device.FarmerID,
		DeviceID: device.DeviceID,
		DayKey:   DayKey(ts),
		TS:       ts,
		Payload:  payload,
		LeafHash: leaf,
	}
	if err := store.InsertReading(r); err != nil {
		return Reading{}, err
	}
	return r, nil
}

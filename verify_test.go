package farmproof

import (
	"encoding/json"
	"testing"
)

func TestVerifyDayGlobal_NoAnchor(t *testing.T) {
	store := newTestStore(t)
	v := NewVerifier(store)

	verdict, err := v.VerifyDayGlobal("2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusPendingAnchor {
		t.Errorf("status = %s, want pending_anchor", verdict.Status)
	}
}

func TestVerifyDayGlobal_AnchorButNoLeaves(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.CreateAnchor(Anchor{DayKey: "2026-03-14", MerkleRoot: hashHex("root")}); err != nil {
		t.Fatal(err)
	}
	v := NewVerifier(store)

	verdict, err := v.VerifyDayGlobal("2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusPendingAnchor {
		t.Errorf("status = %s, want pending_anchor", verdict.Status)
	}
	// The anchor itself is not blamed for missing data.
	a, _, _ := store.AnchorFor("2026-03-14")
	if a.Tampered {
		t.Error("anchor flagged tampered for an empty day")
	}
}

func TestVerifyDayGlobal_CleanAndTampered(t *testing.T) {
	store := newTestStore(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	ts := yesterdayNoon()
	mustIngest(t, store, "dev-1", sensorPayload(1, ts), ts)
	mustIngest(t, store, "dev-1", sensorPayload(2, ts), ts)
	dayKey := DayKey(ts)
	anchorDirect(t, store, dayKey)

	v := NewVerifier(store)
	verdict, err := v.VerifyDayGlobal(dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusClean {
		t.Fatalf("status = %s, want clean", verdict.Status)
	}

	// A reading inserted after anchoring changes the day's recomputed root.
	mustIngest(t, store, "dev-1", sensorPayload(3, ts), ts)

	verdict, err = v.VerifyDayGlobal(dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusGlobalTamper {
		t.Fatalf("status = %s, want global_tamper", verdict.Status)
	}
	if verdict.Details == nil || verdict.Details.Reason != "root_mismatch" {
		t.Errorf("details = %+v, want root_mismatch", verdict.Details)
	}
	if verdict.Details.ComputedRoot == "" || verdict.Details.AnchorRoot == "" {
		t.Error("diagnostic roots missing")
	}

	a, _, err := store.AnchorFor(dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Tampered {
		t.Error("anchor not flagged tampered after root mismatch")
	}
	if a.TamperInfo == nil || a.TamperInfo.Reason != "root_mismatch" {
		t.Errorf("anchor tamper info = %+v", a.TamperInfo)
	}
}

func TestVerifyFarmerDay_ShortCircuitsOnGlobalOutcome(t *testing.T) {
	store := newTestStore(t)
	v := NewVerifier(store)

	// No anchor at all: any farmer's day is pending.
	verdict, err := v.VerifyFarmerDay("farmer-1", "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusPendingAnchor {
		t.Errorf("status = %s, want pending_anchor", verdict.Status)
	}
}

func TestVerifyFarmerDay_CleanNoData(t *testing.T) {
	store := newTestStore(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	ts := yesterdayNoon()
	mustIngest(t, store, "dev-1", sensorPayload(1, ts), ts)
	dayKey := DayKey(ts)
	anchorDirect(t, store, dayKey)

	v := NewVerifier(store)
	verdict, err := v.VerifyFarmerDay("farmer-without-data", dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusCleanNoData {
		t.Errorf("status = %s, want clean_no_data", verdict.Status)
	}
}

func TestVerifyFarmerDay_RecordTamper(t *testing.T) {
	store := newTestStore(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	ts := yesterdayNoon()
	clean := mustIngest(t, store, "dev-1", sensorPayload(1, ts), ts)
	victim := mustIngest(t, store, "dev-1", sensorPayload(2, ts), ts)
	dayKey := DayKey(ts)
	anchorDirect(t, store, dayKey)

	// Mutate the stored payload without updating its leaf digest. The
	// day-level root is built from stored digests, so only the per-record
	// scan can catch this.
	corruptPayload(t, store, victim.ID, sensorPayload(999, ts))

	v := NewVerifier(store)
	global, err := v.VerifyDayGlobal(dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if global.Status != StatusClean {
		t.Fatalf("global status = %s, want clean (digests untouched)", global.Status)
	}

	verdict, err := v.VerifyFarmerDay("farmer-1", dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusKeptTampered {
		t.Fatalf("status = %s, want kept_tampered", verdict.Status)
	}
	if verdict.Details == nil || verdict.Details.Reason != "payload_leaf_mismatch" {
		t.Errorf("details = %+v, want payload_leaf_mismatch", verdict.Details)
	}
	if verdict.Details.ReadingID != victim.ID {
		t.Errorf("offending reading = %s, want %s", verdict.Details.ReadingID, victim.ID)
	}
	_ = clean
}

func TestVerifyFarmerDay_UndecodablePayloadIsTampered(t *testing.T) {
	store := newTestStore(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	ts := yesterdayNoon()
	victim := mustIngest(t, store, "dev-1", sensorPayload(1, ts), ts)
	dayKey := DayKey(ts)
	anchorDirect(t, store, dayKey)

	corruptPayload(t, store, victim.ID, `{"broken`)

	v := NewVerifier(store)
	verdict, err := v.VerifyFarmerDay("farmer-1", dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusKeptTampered {
		t.Errorf("status = %s, want kept_tampered", verdict.Status)
	}
}

func TestCheckPayload(t *testing.T) {
	store := newTestStore(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	ts := yesterdayNoon()
	payload := sensorPayload(1, ts)
	mustIngest(t, store, "dev-1", payload, ts)
	mustIngest(t, store, "dev-1", sensorPayload(2, ts), ts)
	dayKey := DayKey(ts)

	v := NewVerifier(store)

	check, err := v.CheckPayload(json.RawMessage(payload), dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if check.Consistent || check.Reason != "no_anchor_for_day" {
		t.Errorf("pre-anchor check = %+v, want no_anchor_for_day", check)
	}

	anchorDirect(t, store, dayKey)

	check, err = v.CheckPayload(json.RawMessage(payload), dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if !check.Consistent {
		t.Errorf("anchored member payload inconsistent: %+v", check)
	}

	check, err = v.CheckPayload(json.RawMessage(sensorPayload(777, ts)), dayKey)
	if err != nil {
		t.Fatal(err)
	}
	if check.Consistent {
		t.Error("non-member payload reported consistent")
	}

	check, err = v.CheckPayload(json.RawMessage(payload), "1999-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if check.Consistent || check.Reason != "no_anchor_for_day" {
		t.Errorf("unknown day check = %+v", check)
	}
}

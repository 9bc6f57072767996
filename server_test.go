package farmproof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, Store) {
	t.Helper()
	store := newTestStore(t)
	cfg := Config{Quorum: 2, VerifyWindowDays: 5, WitnessTimeout: time.Second}
	anchorer := NewAnchorer(store, nil, nil, cfg.Quorum, cfg.WitnessTimeout, quietLogger())
	verifier := NewVerifier(store)
	purge := NewPurgeEngine(store, verifier, quietLogger())
	srv := NewServer(store, anchorer, verifier, purge, cfg, quietLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestServer_IngestUnknownDevice(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, out := postJSON(t, ts.URL+"/api/ingest", `{"deviceId":"ghost","payload":{"a":1}}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if out["error"] != "unknown_device" {
		t.Errorf("error = %v, want unknown_device", out["error"])
	}
}

func TestServer_IngestRejectsPartialInput(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")

	for _, body := range []string{
		`{"payload":{"a":1}}`,
		`{"deviceId":"dev-1"}`,
		`not json`,
	} {
		resp, _ := postJSON(t, ts.URL+"/api/ingest", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}

	// Rejected ingests must leave no partial state behind.
	leaves, err := store.LeafHashes(DayKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 0 {
		t.Errorf("%d readings created by rejected ingests", len(leaves))
	}
}

func TestServer_IngestStoresReading(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")

	payloadTS := yesterdayNoon()
	body := fmt.Sprintf(`{"deviceId":"dev-1","payload":%s}`, sensorPayload(7, payloadTS))
	resp, out := postJSON(t, ts.URL+"/api/ingest", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["dayKey"] != DayKey(payloadTS) {
		t.Errorf("dayKey = %v, want %s (payload timestamp drives the bucket)", out["dayKey"], DayKey(payloadTS))
	}
	readings, err := store.FarmerReadings("farmer-1", DayKey(payloadTS))
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].LeafHash != out["leafHash"] {
		t.Error("response leafHash does not match stored digest")
	}
}

func TestServer_IngestBulkSkipsUnknownDevices(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")

	pts := yesterdayNoon()
	body := fmt.Sprintf(`[
		{"deviceId":"dev-1","payload":%s},
		{"deviceId":"ghost","payload":%s},
		{"deviceId":"dev-1","payload":%s},
		{"deviceId":"dev-1"}
	]`, sensorPayload(1, pts), sensorPayload(2, pts), sensorPayload(3, pts))

	resp, out := postJSON(t, ts.URL+"/api/ingest/bulk", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["accepted"].(float64) != 2 || out["skipped"].(float64) != 2 {
		t.Errorf("accepted=%v skipped=%v, want 2/2", out["accepted"], out["skipped"])
	}
}

func TestServer_StatusDays(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	pts := yesterdayNoon()
	mustIngest(t, store, "dev-1", sensorPayload(1, pts), pts)
	dayKey := DayKey(pts)
	anchorDirect(t, store, dayKey)

	resp, out := getJSON(t, ts.URL+"/api/status/days?window=7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	days := out["days"].([]any)
	if len(days) != 7 {
		t.Fatalf("got %d days, want 7", len(days))
	}
	found := false
	for _, d := range days {
		entry := d.(map[string]any)
		if entry["dayKey"] == dayKey {
			found = true
			if entry["anchored"] != true {
				t.Error("anchored day reported unanchored")
			}
		} else if entry["anchored"] == true {
			t.Errorf("day %v reported anchored", entry["dayKey"])
		}
	}
	if !found {
		t.Errorf("anchored day %s missing from window", dayKey)
	}

	resp, _ = getJSON(t, ts.URL+"/api/status/days?window=nope")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad window: status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_VerifyPayload(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	pts := yesterdayNoon()
	payload := sensorPayload(1, pts)
	mustIngest(t, store, "dev-1", payload, pts)
	anchorDirect(t, store, DayKey(pts))

	resp, out := postJSON(t, ts.URL+"/api/verify", fmt.Sprintf(`{"payload":%s}`, payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["consistent"] != true {
		t.Errorf("consistent = %v, want true: %v", out["consistent"], out)
	}
	if out["needed"].(float64) != 2 {
		t.Errorf("needed = %v, want configured quorum 2", out["needed"])
	}

	// A payload without a timestamp cannot be bucketed.
	resp, out = postJSON(t, ts.URL+"/api/verify", `{"payload":{"a":1}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if out["error"] != "payload_timestamp_required" {
		t.Errorf("error = %v", out["error"])
	}

	// An unseen payload on an anchored day is inconsistent, not an error.
	resp, out = postJSON(t, ts.URL+"/api/verify", fmt.Sprintf(`{"payload":%s}`, sensorPayload(999, pts)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["consistent"] != false {
		t.Error("forged payload reported consistent")
	}
}

func TestServer_AdminVerifyFarmerPurges(t *testing.T) {
	ts, store := newTestServer(t)
	mustRegister(t, store, "dev-1", "farmer-1")
	pts := yesterdayNoon()
	mustIngest(t, store, "dev-1", sensorPayload(1, pts), pts)
	dayKey := DayKey(pts)
	anchorDirect(t, store, dayKey)

	resp, out := postJSON(t, ts.URL+"/api/admin/verify/farmer-1?window=2", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, out)
	}
	readings, _ := store.FarmerReadings("farmer-1", dayKey)
	if len(readings) != 0 {
		t.Errorf("clean day not purged via admin endpoint: %d remain", len(readings))
	}
}

func TestServer_DashboardFarmer(t *testing.T) {
	ts, store := newTestServer(t)
	for _, a := range []FarmerDayAudit{
		{FarmerID: "farmer-1", DayKey: "2026-03-10", Status: AuditCleanPurged},
		{FarmerID: "farmer-1", DayKey: "2026-03-11", Status: AuditKeptTampered},
	} {
		if err := store.UpsertAudit(a); err != nil {
			t.Fatal(err)
		}
	}

	resp, out := getJSON(t, ts.URL+"/api/dashboard/farmers/farmer-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	summary := out["summary"].(map[string]any)
	if summary["trustScore"].(float64) != 0.5 {
		t.Errorf("trustScore = %v, want 0.5", summary["trustScore"])
	}
	if summary["tamperedCount"].(float64) != 1 {
		t.Errorf("tamperedCount = %v, want 1", summary["tamperedCount"])
	}
	records := out["records"].([]any)
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestServer_DeviceLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/api/devices", `{"deviceId":"dev-1","farmerId":"farmer-1","label":"barn"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}
	resp, out := postJSON(t, ts.URL+"/api/devices", `{"deviceId":"dev-1","farmerId":"farmer-2"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	if out["error"] != "device_already_exists" {
		t.Errorf("error = %v", out["error"])
	}

	resp, out = getJSON(t, ts.URL+"/api/devices?farmerId=farmer-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatal("list failed")
	}
	if devices := out["devices"].([]any); len(devices) != 1 {
		t.Errorf("got %d devices, want 1", len(devices))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/devices/dev-1", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", resp2.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/devices/dev-1", nil)
	resp2, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

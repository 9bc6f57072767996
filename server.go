package farmproof

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Server exposes the ingest and query boundaries over HTTP.
type Server struct {
	store    Store
	anchorer *Anchorer
	verifier *Verifier
	purge    *PurgeEngine
	cfg      Config
	log      *slog.Logger
}

func NewServer(store Store, anchorer *Anchorer, verifier *Verifier, purge *PurgeEngine, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    store,
		anchorer: anchorer,
		verifier: verifier,
		purge:    purge,
		cfg:      cfg,
		log:      log,
	}
}

// Router builds the HTTP API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	{
		api.POST("/ingest", s.postIngest)
		api.POST("/ingest/bulk", s.postIngestBulk)
		api.GET("/status/days", s.getStatusDays)
		api.POST("/verify", s.postVerify)

		api.GET("/dashboard/farmers", s.getFarmers)
		api.GET("/dashboard/farmers/:farmerId", s.getFarmer)

		api.POST("/admin/anchor", s.postAnchor)
		api.POST("/admin/verify/:farmerId", s.postVerifyFarmer)
		api.POST("/admin/verify-all", s.postVerifyAll)

		api.GET("/devices", s.getDevices)
		api.POST("/devices", s.postDevice)
		api.DELETE("/devices/:deviceId", s.deleteDevice)
	}
	return r
}

type ingestRequest struct {
	DeviceID string          `json:"deviceId"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) postIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload required"})
		return
	}
	if req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId required"})
		return
	}
	reading, err := Ingest(s.store, req.DeviceID, req.Payload, time.Now())
	if errors.Is(err, ErrUnknownDevice) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_device"})
		return
	}
	if err != nil {
		s.log.Error("ingest failed", "deviceId", req.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"id":       reading.ID,
		"leafHash": reading.LeafHash,
		"dayKey":   reading.DayKey,
	})
}

func (s *Server) postIngestBulk(c *gin.Context) {
	var items []ingestRequest
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if len(items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_records"})
		return
	}
	accepted, skipped := 0, 0
	for _, item := range items {
		if item.DeviceID == "" || len(item.Payload) == 0 {
			skipped++
			continue
		}
		_, err := Ingest(s.store, item.DeviceID, item.Payload, time.Now())
		if errors.Is(err, ErrUnknownDevice) {
			skipped++
			continue
		}
		if err != nil {
			s.log.Error("bulk ingest failed", "deviceId", item.DeviceID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_bulk_failed", "accepted": accepted})
			return
		}
		accepted++
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "accepted": accepted, "skipped": skipped})
}

func (s *Server) getStatusDays(c *gin.Context) {
	window := 30
	if raw := c.Query("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return
		}
		window = n
	}
	// Rolling window including today, oldest first.
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	keys := make([]string, 0, window)
	for i := window - 1; i >= 0; i-- {
		keys = append(keys, DayKey(start.AddDate(0, 0, -i)))
	}
	anchors, err := s.store.AnchorsFor(keys)
	if err != nil {
		s.log.Error("status query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	type dayStatus struct {
		DayKey     string `json:"dayKey"`
		Anchored   bool   `json:"anchored"`
		QuorumMet  bool   `json:"quorumMet"`
		Tampered   bool   `json:"tampered"`
		Signatures int    `json:"signatures"`
	}
	out := make([]dayStatus, 0, len(keys))
	for _, k := range keys {
		st := dayStatus{DayKey: k}
		if a, ok := anchors[k]; ok {
			st.Anchored = true
			st.QuorumMet = a.QuorumMet
			st.Tampered = a.Tampered
			st.Signatures = len(a.Signatures)
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, gin.H{"days": out})
}

func (s *Server) postVerify(c *gin.Context) {
	var req struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload required"})
		return
	}
	ts, ok := PayloadTimestamp(req.Payload)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload_timestamp_required"})
		return
	}
	check, err := s.verifier.CheckPayload(req.Payload, DayKey(ts))
	if err != nil {
		s.log.Error("payload check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify_failed"})
		return
	}
	check.Needed = s.cfg.Quorum
	c.JSON(http.StatusOK, check)
}

func (s *Server) getFarmer(c *gin.Context) {
	farmerID := c.Param("farmerId")
	records, err := s.store.FarmerAudits(farmerID)
	if err != nil {
		s.log.Error("audit history query failed", "farmerId", farmerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"farmerId": farmerID,
		"summary":  Summarize(records),
		"records":  records,
	})
}

func (s *Server) getFarmers(c *gin.Context) {
	ids, err := s.store.FarmerIDs()
	if err != nil {
		s.log.Error("farmer list query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard_failed"})
		return
	}
	type farmerEntry struct {
		FarmerID string        `json:"farmerId"`
		Summary  TamperSummary `json:"summary"`
	}
	out := make([]farmerEntry, 0, len(ids))
	for _, id := range ids {
		records, err := s.store.FarmerAudits(id)
		if err != nil {
			s.log.Error("audit history query failed", "farmerId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard_failed"})
			return
		}
		out = append(out, farmerEntry{FarmerID: id, Summary: Summarize(records)})
	}
	c.JSON(http.StatusOK, gin.H{"farmers": out})
}

func (s *Server) postAnchor(c *gin.Context) {
	dayKey := c.Query("day")
	if dayKey == "" {
		dayKey = Yesterday(time.Now())
	}
	if _, err := time.Parse("2006-01-02", dayKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid day"})
		return
	}
	anchor, created, err := s.anchorer.AnchorDay(c.Request.Context(), dayKey)
	if err != nil {
		s.log.Error("anchoring failed", "dayKey", dayKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "anchor_failed"})
		return
	}
	if anchor.MerkleRoot == "" {
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "no_leaves_for_day", "dayKey": dayKey})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "created": created, "anchor": anchor})
}

func (s *Server) postVerifyFarmer(c *gin.Context) {
	farmerID := c.Param("farmerId")
	days, ok := s.windowDays(c)
	if !ok {
		return
	}
	report, err := s.purge.RunFarmerWindow(farmerID, days)
	if err != nil {
		s.log.Error("selective purge failed", "farmerId", farmerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": report})
}

func (s *Server) postVerifyAll(c *gin.Context) {
	days, ok := s.windowDays(c)
	if !ok {
		return
	}
	reports, err := s.purge.RunAllFarmersWindow(days)
	if err != nil {
		s.log.Error("fleet purge failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "reports": reports})
}

func (s *Server) windowDays(c *gin.Context) (int, bool) {
	days := s.cfg.VerifyWindowDays
	if raw := c.Query("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return 0, false
		}
		days = n
	}
	return days, true
}

func (s *Server) getDevices(c *gin.Context) {
	devices, err := s.store.Devices(c.Query("farmerId"))
	if err != nil {
		s.log.Error("device list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "devices_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) postDevice(c *gin.Context) {
	var d Device
	if err := c.ShouldBindJSON(&d); err != nil || d.DeviceID == "" || d.FarmerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId_and_farmerId_required"})
		return
	}
	created, err := s.store.RegisterDevice(d)
	if err != nil {
		s.log.Error("device create failed", "deviceId", d.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device_create_failed"})
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "device_already_exists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "device": d})
}

func (s *Server) deleteDevice(c *gin.Context) {
	removed, err := s.store.RemoveDevice(c.Param("deviceId"))
	if err != nil {
		s.log.Error("device delete failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device_delete_failed"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "device_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

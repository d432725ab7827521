package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"riverpulse/api/internal/ingest"
	"riverpulse/api/internal/models"
	"riverpulse/api/internal/registry"
	"riverpulse/api/internal/repos"
	"riverpulse/shared/config"
	"riverpulse/shared/events"
	"riverpulse/shared/httpx"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/mqx"
	"riverpulse/shared/workflow"
)

type apiServer struct {
	cfg      config.Config
	log      logx.Logger
	devices  *repos.DevicesRepo
	events   *repos.EventsRepo
	alerts   *repos.AlertsRepo
	commands *repos.CommandsRepo
	registry *registry.Registry
	producer *mqx.Producer
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /pubsub/push", s.handlePush)
	mux.HandleFunc("POST /events", s.handleCreateEvent)
	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /devices", s.handleListDevices)
	mux.HandleFunc("GET /devices/fleet", s.handleFleet)
	mux.HandleFunc("GET /devices/{id}", s.handleGetDevice)
	mux.HandleFunc("POST /devices/register", s.handleRegister)
	mux.HandleFunc("POST /devices/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /devices/{id}/command", s.handleCommand)
	mux.HandleFunc("GET /devices/{id}/commands", s.handleListCommands)
	mux.HandleFunc("GET /alerts", s.handleListAlerts)
	mux.HandleFunc("GET /stats", s.handleStats)
}

// handlePush accepts push-delivered envelopes from the backbone's push
// subscription. A 2xx acknowledges the message; parse failures are
// acknowledged too so a poison message is not redelivered forever.
func (s *apiServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var env events.PushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid push envelope", nil)
		return
	}
	rec, err := ingest.FromPush(env, time.Now().UTC())
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid push envelope", nil)
		return
	}
	if err := s.storeRecord(r, rec); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store event", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID  string         `json:"deviceId"`
		EventType string         `json:"eventType"`
		Source    string         `json:"source"`
		Payload   map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	if body.DeviceID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "deviceId is required", nil)
		return
	}
	if body.EventType == "" {
		body.EventType = events.TypeTelemetry
	}
	rec := ingest.FromDirect(body.DeviceID, body.EventType, body.Payload, body.Source, time.Now().UTC())
	if err := s.storeRecord(r, rec); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store event", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"deviceId":  rec.DeviceID,
		"eventType": rec.EventType,
		"source":    rec.Source,
		"timestamp": rec.Timestamp,
	})
}

func (s *apiServer) storeRecord(r *http.Request, rec ingest.Record) error {
	payload, err := rec.PayloadJSON()
	if err != nil {
		return err
	}
	if _, err := s.events.Insert(r.Context(), rec.DeviceID, rec.EventType, rec.Source, rec.Timestamp, rec.ReceivedAt, payload); err != nil {
		return err
	}
	metricsx.IncReadingIngested(rec.Source)
	if rec.EventType == events.TypeHeartbeat {
		if _, err := s.registry.Heartbeat(r.Context(), rec.DeviceID, rec.Timestamp, rec.Payload); err != nil {
			s.log.Warn(r.Context(), "heartbeat_apply_failed", "heartbeat not applied to registry",
				slog.String("device_id", rec.DeviceID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *apiServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := s.events.List(r.Context(), r.URL.Query().Get("deviceId"), r.URL.Query().Get("eventType"), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list events", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": eventViews(list), "count": len(list)})
}

func (s *apiServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid event id", nil)
		return
	}
	event, err := s.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repos.ErrEventNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "event not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load event", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, eventView(event))
}

func (s *apiServer) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := workflow.NormalizeDeviceStatus(r.URL.Query().Get("status"))
	if status != "" && !workflow.ValidDeviceStatus(status) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown device status",
			map[string]any{"allowed": workflow.AllDeviceStatuses()})
		return
	}
	list, err := s.devices.List(r.Context(), status, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list devices", nil)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, d := range list {
		views = append(views, deviceView(d))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

func (s *apiServer) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load device", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deviceView(d))
}

func (s *apiServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID string          `json:"deviceId"`
		Name     string          `json:"name"`
		Location string          `json:"location"`
		Config   json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "deviceId is required", nil)
		return
	}
	d, err := s.registry.Register(r.Context(), body.DeviceID, body.Name, body.Location, body.Config)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "device already registered", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to register device", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, deviceView(d))
}

func (s *apiServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid heartbeat payload", nil)
		return
	}
	d, err := s.registry.Heartbeat(r.Context(), r.PathValue("id"), time.Now().UTC(), payload)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not registered", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to apply heartbeat", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deviceView(d))
}

// handleCommand stores the command and queues it on the backbone for
// the bridge to fan out onto the local bus.
func (s *apiServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	var body struct {
		Command string          `json:"command"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Command == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "command is required", nil)
		return
	}
	if _, err := s.registry.Get(r.Context(), deviceID); err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not registered", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load device", nil)
		return
	}

	cmd, err := s.commands.Insert(r.Context(), deviceID, body.Command, body.Params)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store command", nil)
		return
	}

	wire, err := json.Marshal(events.Command{
		CommandID: cmd.CommandID.String(),
		DeviceID:  deviceID,
		Name:      cmd.Name,
		Params:    cmd.Params,
		IssuedAt:  cmd.IssuedAt,
	})
	if err == nil {
		err = s.producer.Publish(r.Context(), s.cfg.CommandsTopic, []byte(deviceID), wire, map[string]string{
			events.AttrDeviceID:    deviceID,
			events.AttrMessageType: events.TypeCommands,
		})
	}
	if err != nil {
		// Stored but not yet queued; the caller can retry.
		s.log.Error(r.Context(), "command_queue_failed", "failed to queue command",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to queue command", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"commandId": cmd.CommandID,
		"deviceId":  cmd.DeviceID,
		"command":   cmd.Name,
		"status":    cmd.Status,
		"issuedAt":  cmd.IssuedAt,
	})
}

func (s *apiServer) handleListCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	limit, _ := pagination(r)
	list, err := s.commands.ListForDevice(r.Context(), deviceID, limit)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list commands", nil)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, c := range list {
		views = append(views, map[string]any{
			"commandId": c.CommandID,
			"deviceId":  c.DeviceID,
			"command":   c.Name,
			"params":    json.RawMessage(c.Params),
			"status":    c.Status,
			"issuedAt":  c.IssuedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"commands": views, "count": len(views)})
}

func (s *apiServer) handleFleet(w http.ResponseWriter, r *http.Request) {
	summary, err := s.devices.FleetSummary(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to summarize fleet", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"total":       summary.Total,
		"online":      summary.Online,
		"offline":     summary.Offline,
		"registered":  summary.Registered,
		"avgBattery":  summary.AvgBattery,
		"lastUpdated": summary.LastUpdated,
	})
}

func (s *apiServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid since timestamp", nil)
			return
		}
		since = parsed
	}
	list, err := s.alerts.List(r.Context(), r.URL.Query().Get("deviceId"), r.URL.Query().Get("severity"), since, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list alerts", nil)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, a := range list {
		views = append(views, map[string]any{
			"alertId":          a.AlertID,
			"gaugeId":          a.GaugeID,
			"severity":         a.Severity,
			"cfs":              a.CFS,
			"threshold":        a.Threshold,
			"exceedance":       a.Exceedance,
			"message":          a.Message,
			"readingTimestamp": a.ReadingTimestamp,
			"evaluatedAt":      a.EvaluatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": views, "count": len(views)})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.events.CountByType(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count events", nil)
		return
	}
	summary, err := s.devices.FleetSummary(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to summarize fleet", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"eventsByType": counts,
		"devices": map[string]any{
			"total":      summary.Total,
			"online":     summary.Online,
			"offline":    summary.Offline,
			"registered": summary.Registered,
		},
	})
}

func deviceView(d models.Device) map[string]any {
	view := map[string]any{
		"deviceId":     d.DeviceID,
		"name":         d.Name,
		"location":     d.Location,
		"status":       d.Status,
		"registeredAt": d.RegisteredAt,
		"updatedAt":    d.UpdatedAt,
	}
	if d.LastHeartbeat != nil {
		view["lastHeartbeat"] = d.LastHeartbeat
	}
	if d.Battery != nil {
		view["battery"] = *d.Battery
	}
	if d.Firmware != nil {
		view["firmware"] = *d.Firmware
	}
	if d.Connectivity != nil {
		view["connectivity"] = *d.Connectivity
	}
	if len(d.Config) > 0 {
		view["config"] = json.RawMessage(d.Config)
	}
	return view
}

func eventView(e models.Event) map[string]any {
	return map[string]any{
		"eventId":    e.EventID,
		"deviceId":   e.DeviceID,
		"eventType":  e.EventType,
		"source":     e.Source,
		"timestamp":  e.Timestamp,
		"receivedAt": e.ReceivedAt,
		"payload":    json.RawMessage(e.Payload),
	}
}

func eventViews(list []models.Event) []map[string]any {
	views := make([]map[string]any, 0, len(list))
	for _, e := range list {
		views = append(views, eventView(e))
	}
	return views
}

func pagination(r *http.Request) (limit int, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

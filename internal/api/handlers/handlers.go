// Package handlers provides HTTP request handlers for the control
// plane (spec §6).
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/tenant-schema-engine/internal/api/types"
	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/drift"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
	"github.com/axonops/tenant-schema-engine/internal/orchestrator"
	"github.com/axonops/tenant-schema-engine/internal/scheduler"
	"github.com/axonops/tenant-schema-engine/internal/tenant"
	"github.com/axonops/tenant-schema-engine/internal/validate"
)

// Handler holds every collaborator the control-plane routes call into.
type Handler struct {
	store    catalog.Store
	orch     *orchestrator.Orchestrator
	detector *drift.Detector
	sched    *scheduler.Scheduler
	conns    *tenant.Registry
	pingable func() error
	metrics  *metrics.Metrics
}

// New creates a Handler. pingable is called by ReadinessCheck to probe
// the control database.
func New(store catalog.Store, orch *orchestrator.Orchestrator, detector *drift.Detector, sched *scheduler.Scheduler, conns *tenant.Registry, pingable func() error) *Handler {
	return &Handler{store: store, orch: orch, detector: detector, sched: sched, conns: conns, pingable: pingable}
}

// SetMetrics attaches the Prometheus recorders updated by schema
// registration and catalog listing. Unset, the handler runs without a
// metrics dependency.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	writeJSON(w, status, types.ErrorResponse{ErrorCode: code, Message: message})
}

// writeDomainError maps a catalog/orchestrator error to the appropriate
// HTTP status and error kind (spec §7).
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeNotFound, err.Error())
	case errors.Is(err, catalog.ErrDisambiguationRequired):
		writeError(w, http.StatusConflict, types.ErrorCodeDisambiguationRequired, err.Error())
	case errors.Is(err, catalog.ErrLockConflict):
		writeError(w, http.StatusConflict, types.ErrorCodeLockConflict, err.Error())
	case errors.Is(err, catalog.ErrStaleVersion), errors.Is(err, catalog.ErrInvalidSchema):
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, err.Error())
	case errors.Is(err, catalog.ErrInconsistent):
		writeError(w, http.StatusConflict, types.ErrorCodeCatalogConsistency, err.Error())
	case errors.Is(err, catalog.ErrLockNotHeld):
		writeError(w, http.StatusConflict, types.ErrorCodeLockConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, types.ErrorCodeInternal, err.Error())
	}
}

// LivenessCheck handles GET /health/live. Always 200 — the process is
// alive and not deadlocked.
func (h *Handler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// ReadinessCheck handles GET /health/ready. 200 when the control
// database answers a ping, 503 otherwise.
func (h *Handler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.pingable == nil || h.pingable() == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "reason": "control database unreachable"})
}

// --- Catalog inspection (schemas/*) ---

// CreateSchema handles POST /schemas (schemas/create).
func (h *Handler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableName        string          `json:"table_name"`
		DatabaseType     string          `json:"database_type"`
		PartitionType    string          `json:"partition_type"`
		TimeInterval     string          `json:"time_interval,omitempty"`
		TimeFormat       string          `json:"time_format,omitempty"`
		SchemaVersion    string          `json:"schema_version"`
		SchemaDefinition json.RawMessage `json:"schema_definition"`
		UpgradeNotes     string          `json:"upgrade_notes,omitempty"`
		ChangesDetected  string          `json:"changes_detected,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}

	if err := validate.TableDefinition(body.SchemaDefinition); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, err.Error())
		return
	}

	var def catalog.TableDefinition
	if err := json.Unmarshal(body.SchemaDefinition, &def); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid schema_definition: "+err.Error())
		return
	}

	schema := catalog.TableSchema{
		TableName:        body.TableName,
		DatabaseType:     catalog.DatabaseType(body.DatabaseType),
		PartitionType:    catalog.PartitionType(body.PartitionType),
		TimeInterval:     catalog.TimeInterval(body.TimeInterval),
		TimeFormat:       body.TimeFormat,
		SchemaVersion:    body.SchemaVersion,
		SchemaDefinition: def,
		UpgradeNotes:     body.UpgradeNotes,
		ChangesDetected:  body.ChangesDetected,
	}

	saved, err := h.store.PutNewVersion(r.Context(), schema)
	if h.metrics != nil {
		h.metrics.RecordSchemaRegistration(body.TableName, err == nil)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// ListSchemas handles GET /schemas (schemas/list).
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	params := catalog.ListSchemasParams{
		TableName:     r.URL.Query().Get("table_name"),
		DatabaseType:  catalog.DatabaseType(r.URL.Query().Get("database_type")),
		PartitionType: catalog.PartitionType(r.URL.Query().Get("partition_type")),
	}
	schemas, err := h.store.ListAllActive(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		byType := make(map[catalog.DatabaseType]float64, 4)
		for _, s := range schemas {
			byType[s.DatabaseType]++
		}
		for dbType, count := range byType {
			h.metrics.UpdateCatalogVersionCount(string(dbType), count)
		}
	}
	writeJSON(w, http.StatusOK, schemas)
}

// DetailSchema handles GET /schemas/{table} (schemas/detail).
func (h *Handler) DetailSchema(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, err.Error())
		return
	}
	schema, err := h.store.GetActive(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// HistorySchema handles GET /schemas/{table}/history (schemas/history).
func (h *Handler) HistorySchema(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table")
	dbType := catalog.DatabaseType(r.URL.Query().Get("database_type"))
	history, err := h.store.History(r.Context(), tableName, dbType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// DeleteSchema handles DELETE /schemas/{table} (schemas/delete).
func (h *Handler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, err.Error())
		return
	}
	if err := h.store.SoftDelete(r.Context(), key); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func keyFromRequest(r *http.Request) (catalog.Key, error) {
	tableName := chi.URLParam(r, "table")
	if tableName == "" {
		return catalog.Key{}, fmt.Errorf("table name is required")
	}
	return catalog.Key{
		TableName:     tableName,
		DatabaseType:  catalog.DatabaseType(r.URL.Query().Get("database_type")),
		PartitionType: catalog.PartitionType(r.URL.Query().Get("partition_type")),
	}, nil
}

// --- Migration entry points ---

// Execute handles POST /execute (execute: migrateTable).
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableName     string `json:"table_name"`
		DatabaseType  string `json:"database_type"`
		PartitionType string `json:"partition_type,omitempty"`
		SchemaVersion string `json:"schema_version,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}
	result, err := h.orch.MigrateTable(r.Context(), body.TableName, catalog.DatabaseType(body.DatabaseType), catalog.PartitionType(body.PartitionType), body.SchemaVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExecuteAll handles POST /execute-all (execute-all: migrateAllTables).
func (h *Handler) ExecuteAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.MigrateAllTables(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExecuteStore handles POST /execute-store (execute-store: migrateStoreShards).
func (h *Handler) ExecuteStore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StoreID      string `json:"store_id"`
		EnterpriseID string `json:"enterprise_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}
	result, err := h.orch.MigrateStoreShards(r.Context(), body.StoreID, body.EnterpriseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Lock Manager admin ---

// ListLocks handles GET /locks (locks/list).
func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.store.ListActiveLocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locks)
}

// ForceReleaseLock handles POST /locks/force-release (locks/force-release).
func (h *Handler) ForceReleaseLock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LockKey string `json:"lock_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}
	if err := h.store.ForceReleaseLock(r.Context(), body.LockKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// CleanupLocks handles POST /locks/cleanup (locks/cleanup).
func (h *Handler) CleanupLocks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgeSeconds int `json:"age_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}
	if body.AgeSeconds <= 0 {
		body.AgeSeconds = 3600
	}
	count, err := h.store.CleanupLocksOlderThan(r.Context(), time.Duration(body.AgeSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": count})
}

// --- Connection Registry admin ---

// ConnectionStats handles GET /connections/stats (connections/stats).
func (h *Handler) ConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"open_pools": h.conns.Stats()})
}

// ConnectionClose handles POST /connections/close (connections/close).
func (h *Handler) ConnectionClose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenant_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "invalid request body: "+err.Error())
		return
	}
	if body.TenantID == "" {
		h.conns.CloseAll()
	} else {
		h.conns.CloseForTenant(body.TenantID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// --- Drift Detector ---

// DetectAll handles POST /schema-detection/all (schema-detection/all):
// runs the diff and returns proposals without persisting them.
func (h *Handler) DetectAll(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.detector.DetectAll(r.Context(), drift.Timestamp(nowForDetection()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

// DetectAndSave handles POST /schema-detection/detect-and-save:
// runs the diff and persists every proposal through PutNewVersion.
func (h *Handler) DetectAndSave(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.detector.DetectAll(r.Context(), drift.Timestamp(nowForDetection()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	saved, err := drift.SaveDetectedChanges(r.Context(), h.store, proposals)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DetectTable handles GET /schema-detection/table: runs the full diff
// and returns only proposals touching the requested table_name.
func (h *Handler) DetectTable(w http.ResponseWriter, r *http.Request) {
	tableName := r.URL.Query().Get("table_name")
	if tableName == "" {
		writeError(w, http.StatusBadRequest, types.ErrorCodeValidation, "table_name is required")
		return
	}
	proposals, err := h.detector.DetectAll(r.Context(), drift.Timestamp(nowForDetection()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var matched []drift.Proposal
	for _, p := range proposals {
		if p.Schema.TableName == tableName {
			matched = append(matched, p)
		}
	}
	writeJSON(w, http.StatusOK, matched)
}

// --- Scheduler manual triggers ---

// ManualShardCheck handles POST /table-schedule/manual-check.
func (h *Handler) ManualShardCheck(w http.ResponseWriter, r *http.Request) {
	h.sched.RunShardPreCreationNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ManualLogCleanup handles POST /log-cleanup/manual.
func (h *Handler) ManualLogCleanup(w http.ResponseWriter, r *http.Request) {
	h.sched.RunRetentionCleanupNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// Ping builds a readiness probe closure from a *sql.DB, used by callers
// wiring up New's pingable parameter.
func Ping(db *sql.DB) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// nowForDetection supplies the current time to the drift detector. It is
// a function value, not a direct time.Now() call at each call site, so a
// future scheduled-detection path can substitute a fixed clock in tests.
var nowForDetection = time.Now

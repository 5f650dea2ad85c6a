package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

// createRequest is the control plane's provisioning call. Everything else
// (unit, limits, allocation) is fetched back from the panel by the install
// job, so the panel stays the single source of truth.
type createRequest struct {
	ID         string `json:"id"`
	InternalID string `json:"internal_id"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := d.reg.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []types.ServerRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (d *Daemon) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.InternalID == "" {
		writeError(w, http.StatusBadRequest, "internal_id is required")
		return
	}

	if _, err := d.reg.Get(ctx, req.InternalID); err == nil {
		writeError(w, http.StatusConflict, "server already exists")
		return
	}

	rec := types.ServerRecord{
		ID:         req.ID,
		InternalID: req.InternalID,
		State:      types.StateCreating,
		CreatedAt:  time.Now(),
	}
	if err := d.reg.Put(ctx, rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := d.installer.Enqueue(req.InternalID, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (d *Daemon) handleInspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := d.reg.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	resp := struct {
		types.ServerRecord
		Running bool `json:"running"`
	}{ServerRecord: rec}
	if rec.ContainerID != "" {
		if status, err := d.eng.Inspect(ctx, rec.ContainerID); err == nil {
			resp.Running = status.Running
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleReinstall(w http.ResponseWriter, r *http.Request) {
	rec, err := d.reg.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if err := d.installer.Enqueue(rec.InternalID, true); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reinstalling"})
}

// handleDelete tears a server down completely: cancels any in-flight
// install, force-removes the container, deletes the volume and frees the
// index record (and with it the allocation).
func (d *Daemon) handleDelete(w http.ResponseWriter, r *http.Request) {
	logger := log.WithFunc("daemon.handleDelete")
	ctx := r.Context()

	rec, err := d.reg.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	d.installer.Cancel(rec.InternalID)

	if rec.ContainerID != "" {
		if err := d.eng.Remove(ctx, rec.ContainerID, true); err != nil && !errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := os.RemoveAll(d.conf.ServerVolume(rec.InternalID)); err != nil {
		logger.Warnf(ctx, "remove volume for %s: %v", rec.InternalID, err)
	}
	if err := d.reg.Delete(ctx, rec.InternalID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Infof(ctx, "server %s deleted", rec.InternalID)
	w.WriteHeader(http.StatusNoContent)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

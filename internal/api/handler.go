package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/altiusproxy/slurmgate/internal/apierr"
	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/registration"
	"github.com/altiusproxy/slurmgate/internal/registry"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
	"github.com/altiusproxy/slurmgate/internal/submit"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store     job.Store
	scheduler scheduler.Client
	registry  *registry.Registry
	registrar *registration.Registrar
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(store job.Store, sched scheduler.Client, reg *registry.Registry, registrar *registration.Registrar) *Handler {
	return &Handler{store: store, scheduler: sched, registry: reg, registrar: registrar}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("POST /submit/", h.Submit)
	mux.HandleFunc("POST /monitor/", h.MonitorCreate)
	mux.HandleFunc("GET /monitor/slurm_job_id/{id}", h.MonitorGetByJobID)
	mux.HandleFunc("GET /monitor/slurm_state/{state}", h.MonitorGetByState)
	mux.HandleFunc("DELETE /monitor/slurm_job_id/{id}", h.MonitorDelete)
	mux.HandleFunc("GET /monitor/slurm_status_table", h.MonitorStatusTable)
}

// Ping handles GET /ping, unauthenticated.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong")) //nolint:errcheck
}

// submitRequest is the POST /submit/ request body.
type submitRequest struct {
	Task job.TaskEnvelope `json:"task"`
}

// Submit handles POST /submit/: validates the task envelope, renders and
// submits the sbatch script, and registers the accepted job for tracking.
// On success it responds with the full submitted task envelope.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "invalid JSON body", err))
		return
	}

	if err := req.Task.Validate(); err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "invalid task envelope", err))
		return
	}

	desc, ok := h.registry.Get(req.Task.Name)
	if !ok {
		respondErr(w, apierr.New(apierr.KindBadRequest, "task \""+req.Task.Name+"\" is not registered"))
		return
	}

	script := submit.Render(req.Task, desc)
	jobID, err := h.scheduler.Submit(r.Context(), script)
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to submit task to the scheduler", err))
		return
	}
	if jobID == scheduler.BadJobID {
		respondErr(w, apierr.New(apierr.KindBadRequest, "failed to submit task to the scheduler"))
		return
	}

	if _, _, err := h.registrar.Register(r.Context(), jobID, req.Task); err != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to register submitted job", err))
		return
	}

	writeJSON(w, http.StatusOK, req.Task)
}

// monitorCreateRequest is the POST /monitor/ request body.
type monitorCreateRequest struct {
	Job struct {
		SlurmJobID int64            `json:"slurm_job_id"`
		Task       job.TaskEnvelope `json:"task"`
	} `json:"job"`
}

// MonitorCreate handles POST /monitor/: registers an already-submitted job
// for tracking, the same path Submit uses internally.
func (h *Handler) MonitorCreate(w http.ResponseWriter, r *http.Request) {
	var req monitorCreateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "invalid JSON body", err))
		return
	}
	if req.Job.SlurmJobID == 0 {
		respondErr(w, apierr.New(apierr.KindBadRequest, "job.slurm_job_id must not be empty"))
		return
	}

	tracked, _, err := h.registrar.Register(r.Context(), req.Job.SlurmJobID, req.Job.Task)
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to register job", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"job": tracked})
}

// MonitorGetByJobID handles GET /monitor/slurm_job_id/{id}: reports both
// the scheduler's live view and the tracked store's view, 404 iff neither
// has any information about the job.
func (h *Handler) MonitorGetByJobID(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r.PathValue("id"))
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "invalid job id", err))
		return
	}

	snap, schedErr := h.scheduler.QueryJob(r.Context(), id)
	storeRec, storeErr := h.store.Find(r.Context(), id)
	if storeErr != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to query store", storeErr))
		return
	}

	schedNotFound := errors.Is(schedErr, scheduler.ErrJobNotFound)
	if schedNotFound && storeRec == nil {
		respondErr(w, apierr.New(apierr.KindNotFound, "job not found"))
		return
	}
	if schedErr != nil && !schedNotFound {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to query scheduler", schedErr))
		return
	}

	resp := map[string]any{"store": storeRec}
	if !schedNotFound {
		resp["scheduler"] = map[string]any{"job_id": snap.JobID, "state": snap.State}
	} else {
		resp["scheduler"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// MonitorGetByState handles GET /monitor/slurm_state/{state}: 400 if state
// is not a canonical token, otherwise the scheduler's current jobs in that
// state.
func (h *Handler) MonitorGetByState(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("state")
	state := job.Classify(raw)
	if !state.IsKnown() {
		respondErr(w, apierr.New(apierr.KindBadRequest, "unrecognized state \""+raw+"\""))
		return
	}

	snaps, err := h.scheduler.QueryByState(r.Context(), state)
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to query scheduler", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": snaps})
}

// MonitorDelete handles DELETE /monitor/slurm_job_id/{id}: cancels the job
// on the scheduler and removes its tracked record.
func (h *Handler) MonitorDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r.PathValue("id"))
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "invalid job id", err))
		return
	}

	existing, err := h.store.Find(r.Context(), id)
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to query store", err))
		return
	}
	if existing == nil {
		respondErr(w, apierr.New(apierr.KindNotFound, "job not found"))
		return
	}

	if err := h.scheduler.Cancel(r.Context(), id); err != nil {
		respondErr(w, apierr.Wrap(apierr.KindBadRequest, "failed to cancel job on the scheduler", err))
		return
	}

	removed, err := h.store.DeleteAndReturn(r.Context(), id)
	if err != nil {
		respondErr(w, apierr.Wrap(apierr.KindInternal, "failed to delete job record", err))
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

// MonitorStatusTable handles GET /monitor/slurm_status_table: a diagnostic
// dump of every canonical state's short code and explanation.
func (h *Handler) MonitorStatusTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"states": job.StatusTable})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondErr classifies err through apierr.StatusFor and writes it as the
// response body, so call sites never hand-pick a status themselves.
func respondErr(w http.ResponseWriter, err error) {
	writeError(w, apierr.StatusFor(err), err.Error())
}

func parseJobID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// syncResponse is a run result with an overall success flag.
type syncResponse struct {
	Success bool `json:"success"`
	*reconcile.Result
}

// statusResponse is the status report plus the authority's reachability.
type statusResponse struct {
	*tasks.StatusReport
	IsOnline bool `json:"is_online"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"clients":   s.hub.ClientCount(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.logger.Printf("Failed to list tasks: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}
	if list == nil {
		list = []*schema.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, tasks.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		s.logger.Printf("Failed to get task: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.deps.Tasks.Create(r.Context(), req.Title, req.Description)
	if schema.IsValidationError(err) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("Failed to create task: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to create task")
		return
	}

	s.hub.BroadcastTask("created", task)
	s.mutated()
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch schema.TaskPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.deps.Tasks.Update(r.Context(), chi.URLParam(r, "id"), patch)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Task not found")
		return
	case schema.IsValidationError(err):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Printf("Failed to update task: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to update task")
		return
	}

	s.hub.BroadcastTask("updated", task)
	s.mutated()
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.deps.Tasks.Delete(r.Context(), id)
	if err != nil {
		s.logger.Printf("Failed to delete task: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	if task, err := s.deps.Tasks.GetRaw(r.Context(), id); err == nil {
		s.hub.BroadcastTask("deleted", task)
	}
	s.mutated()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeueTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.deps.Tasks.Requeue(r.Context(), id)
	if err != nil {
		s.logger.Printf("Failed to requeue task: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to requeue task")
		return
	}
	if !ok {
		writeError(w, r, http.StatusConflict, "Task is not in error state")
		return
	}

	task, err := s.deps.Tasks.GetRaw(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch task")
		return
	}
	s.hub.BroadcastTask("requeued", task)
	s.mutated()
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Sync is not configured")
		return
	}

	res, err := s.deps.Engine.Reconcile(r.Context())
	switch {
	case errors.Is(err, reconcile.ErrInProgress):
		writeError(w, r, http.StatusConflict, "Sync already in progress")
		return
	case err != nil:
		s.logger.Printf("Sync failed: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Sync failed")
		return
	case res.Offline:
		writeError(w, r, http.StatusServiceUnavailable, "Cannot sync while offline")
		return
	}

	s.hub.BroadcastSync(res)
	writeJSON(w, http.StatusOK, syncResponse{Success: res.Success(), Result: res})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Tasks.Status(r.Context())
	if err != nil {
		s.logger.Printf("Failed to build status: %v", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to get sync status")
		return
	}

	online := false
	if s.deps.Authority != nil {
		online = s.deps.Authority.Probe(r.Context())
	}
	writeJSON(w, http.StatusOK, statusResponse{StatusReport: report, IsOnline: online})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Applier == nil {
		writeError(w, r, http.StatusNotFound, "Batch endpoint is not enabled")
		return
	}

	var req authority.BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Items == nil {
		writeError(w, r, http.StatusBadRequest, "Items array is required")
		return
	}

	outcomes := s.deps.Applier.Apply(r.Context(), req.Items)
	for _, o := range outcomes {
		if o.Status == authority.OutcomeSuccess && o.ResolvedData != nil {
			s.hub.BroadcastTask("applied", o.ResolvedData)
		}
	}
	writeJSON(w, http.StatusOK, authority.BatchResponse{ProcessedItems: outcomes})
}

// BroadcastSync lets background runs publish their results on the feed.
func (s *Server) BroadcastSync(res *reconcile.Result) {
	if res == nil {
		return
	}
	s.hub.BroadcastSync(res)
	if report, err := s.deps.Tasks.Status(context.Background()); err == nil {
		s.hub.BroadcastStatus(report)
	}
}

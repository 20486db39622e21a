// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hyperorc/daemon/audit"
	"hyperorc/daemon/metrics"
	"hyperorc/orcerrors"
)

// logAudit is a no-op when no audit logger is attached.
func (s *Server) logAudit(eventType audit.EventType, vmID, poolID, leaseToken string, err error) {
	if s.audit == nil {
		return
	}
	e := audit.NewEvent(eventType, vmID)
	e.PoolID = poolID
	e.LeaseToken = leaseToken
	e.Status = audit.EventStatusSuccess
	if err != nil {
		e.Status = audit.EventStatusFailure
		e.Error = err.Error()
	}
	if logErr := s.audit.Log(e); logErr != nil {
		s.log.Warn("failed to write audit event", "event_type", eventType, "error", logErr)
	}
}

func (s *Server) handleListVMs(w http.ResponseWriter, r *http.Request) {
	vms, err := s.orc.ListVMs()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, vms)
}

func (s *Server) handleGetVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.orc.DeleteVM(r.Context(), v.ID, os.RemoveAll); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) agentEndpoint(ip string) string {
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d/", ip, s.agentPort)
}

// handleResumeVM is the fast-resume hot path. resume_time_ms is measured
// on the server around the orchestrator call, so it reflects what the
// caller actually waited for.
func (s *Server) handleResumeVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	start := time.Now()
	resumed, err := s.orc.ResumeVM(r.Context(), v.ID)
	elapsed := time.Since(start)
	metrics.RecordOperation("resume", elapsed.Seconds(), err)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	metrics.RecordResume(elapsed.Seconds())

	s.jsonResponse(w, http.StatusOK, ResumeResponse{
		VM:            resumed,
		VMName:        resumed.Name,
		ResumeTimeMS:  elapsed.Milliseconds(),
		AgentEndpoint: s.agentEndpoint(resumed.IPAddress),
	})
}

func (s *Server) handleSaveVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	saved, err := s.orc.SaveVM(r.Context(), v.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, saved)
}

func (s *Server) handleResetVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	reset, err := s.orc.ResetVM(r.Context(), v.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, reset)
}

func (s *Server) handleStopVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var req StopRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stopped, err := s.orc.StopVM(r.Context(), v.ID, req.Force)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stopped)
}

func (s *Server) handlePrepareVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	start := time.Now()
	prepared, err := s.orc.PrepareVM(r.Context(), v.ID)
	metrics.RecordOperation("prepare", time.Since(start).Seconds(), err)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, prepared)
}

func (s *Server) handleReleaseVM(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.orc.GetVMByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var req ReleaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := time.Now()
	released, err := s.orc.Release(r.Context(), v.ID, req.LeaseToken, req.Reset, req.Force)
	metrics.RecordOperation("release", time.Since(start).Seconds(), err)

	eventType := audit.EventTypeLeaseReleased
	switch {
	case req.Force:
		eventType = audit.EventTypeLeaseForceReleased
	case req.Reset:
		eventType = audit.EventTypeLeaseReset
	}
	s.logAudit(eventType, v.ID, v.PoolID, req.LeaseToken, err)

	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, released)
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PoolName == "" {
		s.errorResponse(w, orcerrors.New(orcerrors.BadRequest, "pool_name is required"))
		return
	}
	pool, err := s.orc.GetPoolByName(req.PoolName)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	start := time.Now()
	result, err := s.orc.Acquire(r.Context(), pool.ID)
	elapsed := time.Since(start)
	metrics.RecordOperation("acquire", elapsed.Seconds(), err)
	if err != nil {
		s.logAudit(audit.EventTypeLeaseAcquired, "", pool.ID, "", err)
		s.errorResponse(w, err)
		return
	}
	s.logAudit(audit.EventTypeLeaseAcquired, result.VM.ID, pool.ID, result.LeaseToken, nil)

	s.jsonResponse(w, http.StatusOK, AcquireResponse{
		ResumeResponse: ResumeResponse{
			VM:            result.VM,
			VMName:        result.VM.Name,
			ResumeTimeMS:  elapsed.Milliseconds(),
			AgentEndpoint: s.agentEndpoint(result.VM.IPAddress),
		},
		LeaseToken: result.LeaseToken,
	})
}

// handleAuditQuery is a diagnostics endpoint over the lease audit trail.
// Filters: vm_id, pool_id, event_type, limit (default 100).
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.jsonResponse(w, http.StatusOK, map[string]interface{}{"events": []interface{}{}})
		return
	}
	q := r.URL.Query()
	filter := audit.QueryFilter{
		VMID:      q.Get("vm_id"),
		PoolID:    q.Get("pool_id"),
		EventType: audit.EventType(q.Get("event_type")),
		Limit:     100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	events, err := s.audit.Query(filter)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.orc.Reconcile(r.Context())
	metrics.RecordOperation("reconcile", time.Since(start).Seconds(), err)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reconciled", "timestamp": timestamp()})
}

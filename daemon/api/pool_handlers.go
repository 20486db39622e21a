// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hyperorc/daemon/metrics"
	"hyperorc/domain"
)

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.orc.ListPools()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, pools)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.applyDefaults()

	tmpl, err := s.orc.GetTemplateByName(req.TemplateName)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	p := domain.NewPool(req.Name, tmpl.ID, req.DesiredCount, req.WarmCount, req.MaxPerHost)
	created, err := s.orc.CreatePool(p)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pool, err := s.orc.GetPoolByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	status, err := s.orc.PoolStatus(pool.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	for state, count := range status.ByState {
		metrics.SetPoolState(pool.Name, state, float64(count))
	}
	metrics.SetLeasesActive(pool.Name, float64(status.Leased))
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orc.DeletePoolByName(name); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProvisionPool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pool, err := s.orc.GetPoolByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var req ProvisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.applyDefaults()

	ids, err := s.orc.ProvisionPool(r.Context(), pool.ID, req.Count, req.AllowOverDesired)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"vm_ids": ids})
}

// handlePreparePool prepares every Off VM in the pool. Partial failures
// are reported per-VM rather than aborting the batch.
func (s *Server) handlePreparePool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pool, err := s.orc.GetPoolByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	vms, err := s.orc.ListVMsByPool(pool.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	type result struct {
		VMName string `json:"vm_name"`
		Error  string `json:"error,omitempty"`
	}
	var results []result
	for _, v := range vms {
		if v.State != domain.VMOff {
			continue
		}
		if _, err := s.orc.PrepareVM(r.Context(), v.ID); err != nil {
			results = append(results, result{VMName: v.Name, Error: err.Error()})
			continue
		}
		results = append(results, result{VMName: v.Name})
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"results": results})
}

// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"hyperorc/domain"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.orc.ListTemplates()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	t, err := s.orc.GetTemplateByName(name)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.applyDefaults()

	t := domain.NewTemplate(req.Name, req.VHDXPath, req.MemoryMB, req.CPUCount, req.GPUEnabled)
	t.InstalledSoftware = req.InstalledSoftware
	t.Description = req.Description

	created, err := s.orc.RegisterTemplate(t, pathExists)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orc.DeleteTemplateByName(name); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

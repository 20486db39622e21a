// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"time"

	"hyperorc/domain"
)

// CreateTemplateRequest is the body of POST /api/v1/templates.
// Memory/CPU/GPU default when omitted.
type CreateTemplateRequest struct {
	Name              string   `json:"name"`
	VHDXPath          string   `json:"vhdx_path"`
	MemoryMB          uint64   `json:"memory_mb"`
	CPUCount          uint32   `json:"cpu_count"`
	GPUEnabled        bool     `json:"gpu_enabled"`
	InstalledSoftware []string `json:"installed_software,omitempty"`
	Description       string   `json:"description,omitempty"`
}

func (r *CreateTemplateRequest) applyDefaults() {
	if r.MemoryMB == 0 {
		r.MemoryMB = domain.DefaultMemoryMB
	}
	if r.CPUCount == 0 {
		r.CPUCount = domain.DefaultCPUCount
	}
}

// CreatePoolRequest is the body of POST /api/v1/pools.
type CreatePoolRequest struct {
	Name         string `json:"name"`
	TemplateName string `json:"template_name"`
	DesiredCount int    `json:"desired_count"`
	WarmCount    int    `json:"warm_count"`
	MaxPerHost   int    `json:"max_per_host"`
}

func (r *CreatePoolRequest) applyDefaults() {
	if r.DesiredCount == 0 {
		r.DesiredCount = domain.DefaultDesiredCount
	}
	if r.WarmCount == 0 {
		r.WarmCount = domain.DefaultWarmCount
	}
}

// ProvisionRequest is the body of POST /api/v1/pools/:name/provision.
type ProvisionRequest struct {
	Count            int  `json:"count"`
	AllowOverDesired bool `json:"allow_over_desired,omitempty"`
}

func (r *ProvisionRequest) applyDefaults() {
	if r.Count == 0 {
		r.Count = 1
	}
}

// AcquireRequest is the body of POST /api/v1/acquire.
type AcquireRequest struct {
	PoolName string `json:"pool_name"`
}

// ReleaseRequest is the body of POST /api/v1/vms/:name/release.
type ReleaseRequest struct {
	Reset      bool   `json:"reset"`
	LeaseToken string `json:"lease_token,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// StopRequest is the body of POST /api/v1/vms/:name/stop.
type StopRequest struct {
	Force bool `json:"force,omitempty"`
}

// ResumeResponse is the projection of a resumed VM plus the derived
// fields resume_time_ms, agent_endpoint, and vm_name (duplicating the
// embedded name so acquire/resume clients can key on a stable top-level
// field).
type ResumeResponse struct {
	*domain.VM
	VMName        string `json:"vm_name"`
	ResumeTimeMS  int64  `json:"resume_time_ms"`
	AgentEndpoint string `json:"agent_endpoint,omitempty"`
}

// AcquireResponse adds the lease token to the resumed VM projection.
type AcquireResponse struct {
	ResumeResponse
	LeaseToken string `json:"lease_token"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

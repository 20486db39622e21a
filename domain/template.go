// SPDX-License-Identifier: LGPL-3.0-or-later

package domain

import "time"

// Template is an immutable golden disk image and its default hardware
// shape. Pools reference templates; a template cannot be deleted while any
// pool still references it.
type Template struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	VHDXPath          string    `json:"vhdx_path"`
	MemoryMB          uint64    `json:"memory_mb"`
	CPUCount          uint32    `json:"cpu_count"`
	GPUEnabled        bool      `json:"gpu_enabled"`
	InstalledSoftware []string  `json:"installed_software,omitempty"`
	Description       string    `json:"description,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DefaultMemoryMB and DefaultCPUCount are applied by the HTTP layer when
// a CreateTemplateRequest omits them.
const (
	DefaultMemoryMB = 4096
	DefaultCPUCount = 2
)

// NewTemplate constructs a template row with a fresh id.
func NewTemplate(name, vhdxPath string, memoryMB uint64, cpuCount uint32, gpuEnabled bool) *Template {
	return &Template{
		ID:         "tmpl-" + newID(),
		Name:       name,
		VHDXPath:   vhdxPath,
		MemoryMB:   memoryMB,
		CPUCount:   cpuCount,
		GPUEnabled: gpuEnabled,
		CreatedAt:  time.Now().UTC(),
	}
}

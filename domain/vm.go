// SPDX-License-Identifier: LGPL-3.0-or-later

// Package domain defines the entities the orchestrator manages: templates,
// pools, VMs, and the task leases ("agents") held against them.
package domain

import "time"

// VMState is the domain state of a VM. The hypervisor's raw numeric codes
// map onto this enum per FromHyperVState.
type VMState string

const (
	VMOff     VMState = "Off"
	VMRunning VMState = "Running"
	VMSaved   VMState = "Saved"
	VMPaused  VMState = "Paused"
	VMError   VMState = "Error"
)

// FromHyperVState maps a raw Hyper-V VM state code (as returned by
// Get-VM's State enum ordinal) onto the domain state.
func FromHyperVState(raw int) VMState {
	switch raw {
	case 2:
		return VMOff
	case 3:
		return VMRunning
	case 6:
		return VMSaved
	case 9:
		return VMPaused
	default:
		return VMError
	}
}

// VM is a running or savable instance cloned from a template.
type VM struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	TemplateID     string     `json:"template_id,omitempty"`
	PoolID         string     `json:"pool_id,omitempty"`
	State          VMState    `json:"state"`
	VHDXPath       string     `json:"vhdx_path"`
	IPAddress      string     `json:"ip_address,omitempty"`
	MemoryMB       uint64     `json:"memory_mb"`
	CPUCount       uint32     `json:"cpu_count"`
	GPUEnabled     bool       `json:"gpu_enabled"`
	CurrentAgentID string     `json:"current_agent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastResumedAt  *time.Time `json:"last_resumed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// IsAvailable reports whether the VM can be acquired: Saved and unleased.
func (v *VM) IsAvailable() bool {
	return v.State == VMSaved && v.CurrentAgentID == ""
}

// NewVM constructs a fresh, Off VM row. Callers set TemplateID/PoolID
// afterward when the VM is materialized by pool provisioning.
func NewVM(name, vhdxPath string, memoryMB uint64, cpuCount uint32) *VM {
	return &VM{
		ID:        "vm-" + newID(),
		Name:      name,
		State:     VMOff,
		VHDXPath:  vhdxPath,
		MemoryMB:  memoryMB,
		CPUCount:  cpuCount,
		CreatedAt: time.Now().UTC(),
	}
}

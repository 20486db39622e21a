// SPDX-License-Identifier: LGPL-3.0-or-later

// Package hypervisor defines the narrow capability interface the
// orchestrator depends on and two implementations: a PowerShell/Hyper-V
// adapter and an in-memory fake for tests.
package hypervisor

import (
	"context"
	"time"
)

// Info is the raw, hypervisor-reported state of a VM.
type Info struct {
	Name      string
	RawState  int
	IPAddress string
	Uptime    time.Duration
}

// Capability is the synchronous adapter the orchestrator consumes. Every
// operation blocks until the underlying action is observable and returns a
// structured error (via hyperorc's orcerrors package) on non-zero
// hypervisor status.
type Capability interface {
	IsAvailable(ctx context.Context) bool
	ListVMs(ctx context.Context) ([]Info, error)
	GetVM(ctx context.Context, name string) (*Info, error)

	CreateVM(ctx context.Context, name, vhdxPath string, memoryMB uint64, cpuCount uint32) error
	CreateDifferencingDisk(ctx context.Context, parentPath, childPath string) error

	StartVM(ctx context.Context, name string) error
	SaveVM(ctx context.Context, name string) error
	StopVM(ctx context.Context, name string, force bool) error
	PowerOff(ctx context.Context, name string) error
	RemoveVM(ctx context.Context, name string) error

	CreateCheckpoint(ctx context.Context, name, snapshot string) error
	RestoreCheckpoint(ctx context.Context, name, snapshot string) error

	GetIP(ctx context.Context, name string) (string, error)
	// WaitForReady blocks until name is Running with a non-empty IPv4 and
	// a sentinel TCP port accepts connections, or timeout elapses.
	WaitForReady(ctx context.Context, name string, timeout time.Duration) (string, error)
	// WaitForAgent probes the in-guest agent's liveness endpoint.
	WaitForAgent(ctx context.Context, ip string, port int, timeout time.Duration) error

	AddGPU(ctx context.Context, name string) error
	EnableEnhancedSession(ctx context.Context, name string) error
	OpenConsole(ctx context.Context, name string) error
}

// SPDX-License-Identifier: LGPL-3.0-or-later

package hypervisor

import (
	"context"
	"sync"
	"time"

	"hyperorc/orcerrors"
)

// fakeVM is the in-memory record backing Fake.
type fakeVM struct {
	rawState int
	ip       string
}

// Fake is an in-memory Capability used by orchestrator and API tests.
// It mimics the hypervisor's VM state machine without shelling out to
// PowerShell.
type Fake struct {
	mu       sync.Mutex
	vms      map[string]*fakeVM
	FailNext map[string]error // op name -> error to return once, then clear
}

func NewFake() *Fake {
	return &Fake{vms: make(map[string]*fakeVM), FailNext: make(map[string]error)}
}

func (f *Fake) takeFailure(op string) error {
	if err, ok := f.FailNext[op]; ok {
		delete(f.FailNext, op)
		return err
	}
	return nil
}

func (f *Fake) IsAvailable(ctx context.Context) bool { return true }

func (f *Fake) ListVMs(ctx context.Context) ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Info
	for name, v := range f.vms {
		out = append(out, Info{Name: name, RawState: v.rawState, IPAddress: v.ip})
	}
	return out, nil
}

func (f *Fake) GetVM(ctx context.Context, name string) (*Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok {
		return nil, orcerrors.Newf(orcerrors.NotFound, "vm %q not found on hypervisor", name)
	}
	return &Info{Name: name, RawState: v.rawState, IPAddress: v.ip}, nil
}

func (f *Fake) CreateVM(ctx context.Context, name, vhdxPath string, memoryMB uint64, cpuCount uint32) error {
	if err := f.takeFailure("CreateVM"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vms[name] = &fakeVM{rawState: 2}
	return nil
}

func (f *Fake) CreateDifferencingDisk(ctx context.Context, parentPath, childPath string) error {
	return f.takeFailure("CreateDifferencingDisk")
}

func (f *Fake) StartVM(ctx context.Context, name string) error {
	if err := f.takeFailure("StartVM"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok {
		return orcerrors.Newf(orcerrors.NotFound, "vm %q not found", name)
	}
	v.rawState = 3
	v.ip = "10.0.0.42"
	return nil
}

func (f *Fake) SaveVM(ctx context.Context, name string) error {
	if err := f.takeFailure("SaveVM"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok {
		return orcerrors.Newf(orcerrors.NotFound, "vm %q not found", name)
	}
	v.rawState = 6
	return nil
}

func (f *Fake) StopVM(ctx context.Context, name string, force bool) error {
	return f.PowerOff(ctx, name)
}

func (f *Fake) PowerOff(ctx context.Context, name string) error {
	if err := f.takeFailure("PowerOff"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok {
		return orcerrors.Newf(orcerrors.NotFound, "vm %q not found", name)
	}
	v.rawState = 2
	v.ip = ""
	return nil
}

func (f *Fake) RemoveVM(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vms, name)
	return nil
}

func (f *Fake) CreateCheckpoint(ctx context.Context, name, snapshot string) error {
	return f.takeFailure("CreateCheckpoint")
}

func (f *Fake) RestoreCheckpoint(ctx context.Context, name, snapshot string) error {
	if err := f.takeFailure("RestoreCheckpoint"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok {
		return orcerrors.Newf(orcerrors.NotFound, "vm %q not found", name)
	}
	v.rawState = 2
	v.ip = ""
	return nil
}

func (f *Fake) GetIP(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vms[name]
	if !ok || v.ip == "" {
		return "", orcerrors.New(orcerrors.Internal, "vm has no ip address")
	}
	return v.ip, nil
}

func (f *Fake) WaitForReady(ctx context.Context, name string, timeout time.Duration) (string, error) {
	if err := f.takeFailure("WaitForReady"); err != nil {
		return "", err
	}
	return f.GetIP(ctx, name)
}

func (f *Fake) WaitForAgent(ctx context.Context, ip string, port int, timeout time.Duration) error {
	return f.takeFailure("WaitForAgent")
}

func (f *Fake) AddGPU(ctx context.Context, name string) error                { return nil }
func (f *Fake) EnableEnhancedSession(ctx context.Context, name string) error { return nil }
func (f *Fake) OpenConsole(ctx context.Context, name string) error           { return nil }

var _ Capability = (*Fake)(nil)
var _ Capability = (*PowerShellClient)(nil)

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package orchestrator implements the lifecycle, acquisition, and
// reconciliation operations the daemon exposes: template and pool
// management, pool provisioning, the prepare/resume warm path, the
// lease protocol, and the drift-healing reconcile pass.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"hyperorc/daemon/metrics"
	"hyperorc/domain"
	"hyperorc/hypervisor"
	"hyperorc/logger"
	"hyperorc/orcerrors"
	"hyperorc/store"
)

// Config carries the timing knobs for the warm-up and resume paths.
type Config struct {
	StorageRoot    string
	PrepareTimeout time.Duration // default 120s
	ResumeTimeout  time.Duration // default 30s
	SettleInterval time.Duration // default ~10s
	AgentPort      int
}

func (c Config) withDefaults() Config {
	if c.PrepareTimeout == 0 {
		c.PrepareTimeout = 120 * time.Second
	}
	if c.ResumeTimeout == 0 {
		c.ResumeTimeout = 30 * time.Second
	}
	if c.SettleInterval == 0 {
		c.SettleInterval = 10 * time.Second
	}
	if c.AgentPort == 0 {
		c.AgentPort = 9090
	}
	return c
}

// Orchestrator owns every mutation to the store, drives the hypervisor
// capability, and treats the hypervisor as authoritative for VM state
// during reconcile.
type Orchestrator struct {
	store store.Store
	hv    hypervisor.Capability
	log   logger.Logger
	cfg   Config
}

func New(st store.Store, hv hypervisor.Capability, log logger.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{store: st, hv: hv, log: log, cfg: cfg.withDefaults()}
}

// ---- template and pool management ----

// RegisterTemplate validates that VHDXPath exists on the configured
// filesystem checker and inserts the template. The caller supplies
// existence checking (pathExists) so tests don't need a real disk.
func (o *Orchestrator) RegisterTemplate(t *domain.Template, pathExists func(string) bool) (*domain.Template, error) {
	if t.Name == "" || t.VHDXPath == "" {
		return nil, orcerrors.New(orcerrors.BadRequest, "name and vhdx_path are required")
	}
	if pathExists != nil && !pathExists(t.VHDXPath) {
		return nil, orcerrors.Newf(orcerrors.BadRequest, "vhdx_path %q does not exist on host", t.VHDXPath)
	}
	if err := o.store.InsertTemplate(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (o *Orchestrator) CreatePool(p *domain.Pool) (*domain.Pool, error) {
	if p.Name == "" {
		return nil, orcerrors.New(orcerrors.BadRequest, "name is required")
	}
	if _, err := o.store.GetTemplate(p.TemplateID); err != nil {
		return nil, err
	}
	if err := o.store.InsertPool(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ---- pool provisioning ----

// ProvisionPool creates `count` additional VMs in pool, never exceeding
// pool.DesiredCount without explicit override.
func (o *Orchestrator) ProvisionPool(ctx context.Context, poolID string, count int, allowOverDesired bool) ([]string, error) {
	pool, err := o.store.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	tmpl, err := o.store.GetTemplate(pool.TemplateID)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.CountVMsInPool(pool.ID)
	if err != nil {
		return nil, err
	}
	if !allowOverDesired && existing+count > pool.DesiredCount {
		return nil, orcerrors.Newf(orcerrors.BadRequest, "provisioning %d more would exceed pool desired_count %d (have %d)", count, pool.DesiredCount, existing)
	}

	var created []string
	for i := 0; i < count; i++ {
		v, err := o.provisionOne(ctx, pool, tmpl, existing+i)
		if err != nil {
			return created, err
		}
		created = append(created, v.ID)
	}
	return created, nil
}

// provisionOne creates the differencing disk, hypervisor VM, and store
// row for one clone, retrying on a unique-name collision with the next
// free index: two provisioners racing the same pool can pick
// overlapping indices.
func (o *Orchestrator) provisionOne(ctx context.Context, pool *domain.Pool, tmpl *domain.Template, startIndex int) (*domain.VM, error) {
	const maxRetries = 8
	for attempt := 0; attempt < maxRetries; attempt++ {
		idx := startIndex + attempt
		name := fmt.Sprintf("%s-%d", pool.Name, idx)
		if _, err := o.store.GetVMByName(name); err == nil {
			continue // name taken, try next index
		} else if !orcerrors.Is(err, orcerrors.NotFound) {
			return nil, err
		}

		vmDir := filepath.Join(o.cfg.StorageRoot, "VMs", name)
		disk := filepath.Join(vmDir, "disk.vhdx")

		if err := o.hv.CreateDifferencingDisk(ctx, tmpl.VHDXPath, disk); err != nil {
			return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
		}
		if err := o.hv.CreateVM(ctx, name, disk, tmpl.MemoryMB, tmpl.CPUCount); err != nil {
			return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
		}
		if tmpl.GPUEnabled {
			_ = o.hv.AddGPU(ctx, name)
			_ = o.hv.EnableEnhancedSession(ctx, name)
		}

		v := domain.NewVM(name, disk, tmpl.MemoryMB, tmpl.CPUCount)
		v.TemplateID = tmpl.ID
		v.PoolID = pool.ID
		v.GPUEnabled = tmpl.GPUEnabled

		if err := o.store.InsertVM(v); err != nil {
			if orcerrors.Is(err, orcerrors.Conflict) {
				// Lost a naming race after the hypervisor VM was created;
				// tear it down before retrying with the next index so no
				// untracked VM is left behind.
				if rmErr := o.hv.RemoveVM(ctx, name); rmErr != nil {
					o.log.Warn("failed to remove vm after naming collision", "vm", name, "error", rmErr)
				}
				continue
			}
			return nil, err
		}
		return v, nil
	}
	return nil, orcerrors.New(orcerrors.Conflict, "exhausted retries provisioning vm: persistent name collisions")
}

// ---- prepare (warm-up) ----

// PrepareVM turns a fresh Off VM into a fast-resumable Saved image.
// Requires state == Off; preparing a VM that is already running or
// saved fails with InvalidState rather than silently re-snapshotting
// it.
func (o *Orchestrator) PrepareVM(ctx context.Context, vmID string) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if v.State != domain.VMOff {
		return nil, orcerrors.InvalidStateError(string(v.State), string(domain.VMOff))
	}

	v.State = domain.VMRunning
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}

	if err := o.hv.StartVM(ctx, v.Name); err != nil {
		return o.markError(v, err)
	}
	ip, err := o.hv.WaitForReady(ctx, v.Name, o.cfg.PrepareTimeout)
	if err != nil {
		return o.markError(v, err)
	}
	v.IPAddress = ip
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}

	// The saved image is only useful if the in-guest automation agent
	// answers after resume, so its liveness endpoint gates the warm-up.
	if err := o.hv.WaitForAgent(ctx, ip, o.cfg.AgentPort, o.cfg.PrepareTimeout); err != nil {
		return o.markError(v, err)
	}

	select {
	case <-time.After(o.cfg.SettleInterval):
	case <-ctx.Done():
		return o.markError(v, ctx.Err())
	}

	if err := o.hv.CreateCheckpoint(ctx, v.Name, "clean"); err != nil {
		return o.markError(v, err)
	}
	if err := o.hv.SaveVM(ctx, v.Name); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMSaved
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (o *Orchestrator) markError(v *domain.VM, cause error) (*domain.VM, error) {
	v.State = domain.VMError
	v.ErrorMessage = cause.Error()
	if err := o.store.UpdateVM(v); err != nil {
		o.log.Error("failed to persist error state", "vm", v.Name, "error", err)
	}
	return nil, orcerrors.Wrap(orcerrors.HypervisorError, cause)
}

// ---- fast resume ----

// ResumeVM requires state == Saved and resumes the VM, the hot path the
// system exists for (target wall-clock 2-5s on a warm host).
func (o *Orchestrator) ResumeVM(ctx context.Context, vmID string) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if v.State != domain.VMSaved {
		return nil, orcerrors.InvalidStateError(string(v.State), string(domain.VMSaved))
	}

	if err := o.hv.StartVM(ctx, v.Name); err != nil {
		return o.markError(v, err)
	}
	now := time.Now().UTC()
	v.State = domain.VMRunning
	v.LastResumedAt = &now
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}

	ip, err := o.hv.WaitForReady(ctx, v.Name, o.cfg.ResumeTimeout)
	if err != nil {
		return o.markError(v, err)
	}
	v.IPAddress = ip
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

// ---- acquire / release protocol ----

// AcquireResult is the response to Acquire: the leased VM plus the token
// the caller must present to Release it.
type AcquireResult struct {
	VM         *domain.VM
	LeaseToken string
}

// Acquire atomically finds and leases a Saved, unleased VM in poolID,
// then resumes it. If the resume fails after the lease succeeded, the
// lease is released before the error is surfaced, so a failed resume
// never strands the VM leased.
func (o *Orchestrator) Acquire(ctx context.Context, poolID string) (*AcquireResult, error) {
	leaseToken := domain.NewLeaseToken()
	v, err := o.store.AcquireVM(poolID, leaseToken)
	if err != nil {
		return nil, err
	}

	agent := domain.NewAgent(leaseToken, v.ID, poolID)
	if err := o.store.InsertAgent(agent); err != nil {
		o.log.Warn("failed to persist agent audit record", "lease", leaseToken, "error", err)
	}

	resumed, err := o.ResumeVM(ctx, v.ID)
	if err != nil {
		if releaseErr := o.store.ReleaseLease(v.ID); releaseErr != nil {
			o.log.Error("failed to release lease after failed resume", "vm", v.ID, "error", releaseErr)
		}
		return nil, err
	}
	return &AcquireResult{VM: resumed, LeaseToken: leaseToken}, nil
}

// Release hands a leased VM back to its pool. If leaseToken is
// non-empty it must match the VM's current lease unless force is set
// (operator override).
func (o *Orchestrator) Release(ctx context.Context, vmID, leaseToken string, resetToClean, force bool) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if leaseToken != "" && v.CurrentAgentID != leaseToken && !force {
		return nil, orcerrors.New(orcerrors.Conflict, "lease token does not match current holder")
	}
	heldLease := v.CurrentAgentID

	if resetToClean {
		v, err = o.releaseReset(ctx, v)
	} else {
		v, err = o.releaseFast(ctx, v)
	}
	if err != nil {
		return nil, err
	}

	if heldLease != "" {
		if closeErr := o.store.CloseAgent(heldLease, time.Now().UTC()); closeErr != nil {
			o.log.Warn("failed to close agent audit record", "vm", v.ID, "error", closeErr)
		}
	}
	return v, nil
}

func (o *Orchestrator) releaseFast(ctx context.Context, v *domain.VM) (*domain.VM, error) {
	if v.State != domain.VMRunning {
		return nil, orcerrors.InvalidStateError(string(v.State), string(domain.VMRunning))
	}
	if err := o.hv.SaveVM(ctx, v.Name); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMSaved
	v.CurrentAgentID = ""
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

// releaseReset implements the reset path. If PrepareVM fails after the
// reset, the VM is left Off with the lease cleared rather than forced
// into Error; a later pool prepare recovers it.
func (o *Orchestrator) releaseReset(ctx context.Context, v *domain.VM) (*domain.VM, error) {
	if v.State == domain.VMRunning {
		if err := o.hv.PowerOff(ctx, v.Name); err != nil {
			return o.markError(v, err)
		}
	}
	if err := o.hv.RestoreCheckpoint(ctx, v.Name, "clean"); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMOff
	v.CurrentAgentID = ""
	v.IPAddress = ""
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}

	prepared, err := o.PrepareVM(ctx, v.ID)
	if err != nil {
		// PrepareVM marks the VM Error on failure; put it back to Off.
		v.State = domain.VMOff
		v.ErrorMessage = err.Error()
		if upErr := o.store.UpdateVM(v); upErr != nil {
			o.log.Error("failed to restore off state after failed re-prepare", "vm", v.Name, "error", upErr)
		}
		return nil, err
	}
	return prepared, nil
}

// ---- lifecycle operations ----

func (o *Orchestrator) SaveVM(ctx context.Context, vmID string) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if v.State != domain.VMRunning {
		return nil, orcerrors.InvalidStateError(string(v.State), string(domain.VMRunning))
	}
	if err := o.hv.SaveVM(ctx, v.Name); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMSaved
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (o *Orchestrator) ResetVM(ctx context.Context, vmID string) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if v.State == domain.VMRunning {
		if err := o.hv.PowerOff(ctx, v.Name); err != nil {
			return o.markError(v, err)
		}
	}
	if err := o.hv.RestoreCheckpoint(ctx, v.Name, "clean"); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMOff
	v.IPAddress = ""
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (o *Orchestrator) StopVM(ctx context.Context, vmID string, force bool) (*domain.VM, error) {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return nil, err
	}
	if v.State != domain.VMRunning {
		return nil, orcerrors.InvalidStateError(string(v.State), string(domain.VMRunning))
	}
	if err := o.hv.StopVM(ctx, v.Name, force); err != nil {
		return o.markError(v, err)
	}
	v.State = domain.VMOff
	v.IPAddress = ""
	if err := o.store.UpdateVM(v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVM removes the VM from the hypervisor (best-effort; missing
// hypervisor entities are tolerated), deletes its per-VM directory,
// then removes the store row.
func (o *Orchestrator) DeleteVM(ctx context.Context, vmID string, removeDir func(string) error) error {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return err
	}
	if err := o.hv.RemoveVM(ctx, v.Name); err != nil {
		o.log.Warn("hypervisor vm removal failed, continuing with cleanup", "vm", v.Name, "error", err)
	}
	if removeDir != nil {
		if err := removeDir(filepath.Dir(v.VHDXPath)); err != nil {
			o.log.Warn("failed to remove vm directory", "vm", v.Name, "error", err)
		}
	}
	return o.store.DeleteVM(v.ID)
}

func (o *Orchestrator) OpenConsole(ctx context.Context, vmID string) error {
	v, err := o.store.GetVM(vmID)
	if err != nil {
		return err
	}
	return o.hv.OpenConsole(ctx, v.Name)
}

// ---- reconciliation ----

// Reconcile enumerates hypervisor VMs and joins on name: known VMs whose
// raw state maps to a different domain state are overwritten
// (hypervisor wins); known VMs missing from the hypervisor are marked
// Error. Unknown hypervisor VMs are ignored. Idempotent; never touches
// leases.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	known, err := o.store.ListVMs()
	if err != nil {
		return err
	}
	live, err := o.hv.ListVMs(ctx)
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, err)
	}
	liveByName := make(map[string]hypervisor.Info, len(live))
	for _, info := range live {
		liveByName[info.Name] = info
	}

	for _, v := range known {
		info, ok := liveByName[v.Name]
		if !ok {
			if v.State != domain.VMError {
				v.State = domain.VMError
				v.ErrorMessage = "vm missing from hypervisor"
				if err := o.store.UpdateVM(v); err != nil {
					return err
				}
				metrics.RecordReconcileDrift("missing_from_hypervisor")
			}
			continue
		}
		mapped := domain.FromHyperVState(info.RawState)
		if mapped != v.State {
			v.State = mapped
			if info.IPAddress != "" {
				v.IPAddress = info.IPAddress
			}
			if err := o.store.UpdateVM(v); err != nil {
				return err
			}
			metrics.RecordReconcileDrift("state_mismatch")
		}
	}
	return nil
}

// ---- read/delete wrappers used by the HTTP surface ----
//
// These delegate straight to the store: plain lookups and listings
// mutate nothing, so there is no orchestration logic to add beyond name
// resolution; the template-delete conflict check lives in the store
// layer.

func (o *Orchestrator) ListTemplates() ([]*domain.Template, error) { return o.store.ListTemplates() }

func (o *Orchestrator) GetTemplateByName(name string) (*domain.Template, error) {
	return o.store.GetTemplateByName(name)
}

func (o *Orchestrator) DeleteTemplateByName(name string) error {
	t, err := o.store.GetTemplateByName(name)
	if err != nil {
		return err
	}
	return o.store.DeleteTemplate(t.ID)
}

func (o *Orchestrator) ListPools() ([]*domain.Pool, error) { return o.store.ListPools() }

func (o *Orchestrator) GetPoolByName(name string) (*domain.Pool, error) {
	return o.store.GetPoolByName(name)
}

// DeletePoolByName deletes the pool row only; its VMs stay in the store
// with their pool reference cleared. Callers that want the VMs gone
// delete them individually.
func (o *Orchestrator) DeletePoolByName(name string) error {
	p, err := o.store.GetPoolByName(name)
	if err != nil {
		return err
	}
	return o.store.DeletePool(p.ID)
}

func (o *Orchestrator) ListVMs() ([]*domain.VM, error) { return o.store.ListVMs() }

func (o *Orchestrator) ListVMsByPool(poolID string) ([]*domain.VM, error) {
	return o.store.ListVMsByPool(poolID)
}

func (o *Orchestrator) GetVMByName(name string) (*domain.VM, error) {
	return o.store.GetVMByName(name)
}

func (o *Orchestrator) GetVM(id string) (*domain.VM, error) { return o.store.GetVM(id) }

func (o *Orchestrator) GetPool(id string) (*domain.Pool, error) { return o.store.GetPool(id) }

func (o *Orchestrator) GetTemplate(id string) (*domain.Template, error) {
	return o.store.GetTemplate(id)
}

// ---- pool status ----

func (o *Orchestrator) PoolStatus(poolID string) (*domain.PoolStatus, error) {
	pool, err := o.store.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	vms, err := o.store.ListVMsByPool(pool.ID)
	if err != nil {
		return nil, err
	}
	status := &domain.PoolStatus{
		PoolID:   pool.ID,
		PoolName: pool.Name,
		ByState:  make(map[domain.VMState]int),
	}
	for _, v := range vms {
		status.Total++
		status.ByState[v.State]++
		if v.CurrentAgentID != "" {
			status.Leased++
		}
		if v.GPUEnabled {
			status.GPUEnabled++
		}
	}
	return status, nil
}

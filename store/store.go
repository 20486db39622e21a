// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store is the durable catalog of templates, pools, VMs, and
// agent leases. It is backed by SQLite in WAL mode, single-writer
// discipline enforced by the database's own locking, and a dedicated
// atomic acquisition statement so two acquirers can never receive the
// same VM.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hyperorc/domain"
	"hyperorc/orcerrors"
)

// Store is the persistence interface the orchestrator depends on.
type Store interface {
	InsertTemplate(t *domain.Template) error
	GetTemplate(id string) (*domain.Template, error)
	GetTemplateByName(name string) (*domain.Template, error)
	ListTemplates() ([]*domain.Template, error)
	DeleteTemplate(id string) error

	InsertPool(p *domain.Pool) error
	GetPool(id string) (*domain.Pool, error)
	GetPoolByName(name string) (*domain.Pool, error)
	ListPools() ([]*domain.Pool, error)
	DeletePool(id string) error

	InsertVM(v *domain.VM) error
	UpdateVM(v *domain.VM) error
	GetVM(id string) (*domain.VM, error)
	GetVMByName(name string) (*domain.VM, error)
	ListVMs() ([]*domain.VM, error)
	ListVMsByPool(poolID string) ([]*domain.VM, error)
	CountVMsInPool(poolID string) (int, error)
	DeleteVM(id string) error

	// AcquireVM atomically finds a Saved, unleased VM in poolID, marks it
	// leased with leaseToken, and returns the updated row. Returns a
	// NoVMAvailable error if none qualifies.
	AcquireVM(poolID, leaseToken string) (*domain.VM, error)
	// ReleaseLease clears current_agent_id on vmID unconditionally; callers
	// have already verified lease ownership or an operator override.
	ReleaseLease(vmID string) error

	InsertAgent(a *domain.Agent) error
	CloseAgent(leaseToken string, releasedAt time.Time) error
	GetAgentByLease(leaseToken string) (*domain.Agent, error)

	Close() error
}

// SQLiteStore is the SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the database at path and
// ensures its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.Internal, fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(1) // single process-wide writer

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	vhdx_path TEXT NOT NULL,
	memory_mb INTEGER NOT NULL,
	cpu_count INTEGER NOT NULL,
	gpu_enabled INTEGER NOT NULL DEFAULT 0,
	installed_software TEXT,
	description TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	template_id TEXT NOT NULL REFERENCES templates(id),
	desired_count INTEGER NOT NULL,
	warm_count INTEGER NOT NULL,
	max_per_host INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	template_id TEXT REFERENCES templates(id),
	pool_id TEXT REFERENCES pools(id),
	state TEXT NOT NULL,
	vhdx_path TEXT NOT NULL,
	ip_address TEXT,
	memory_mb INTEGER NOT NULL,
	cpu_count INTEGER NOT NULL,
	gpu_enabled INTEGER NOT NULL DEFAULT 0,
	current_agent_id TEXT,
	created_at TEXT NOT NULL,
	last_resumed_at TEXT,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_vms_pool_id ON vms(pool_id);
CREATE INDEX IF NOT EXISTS idx_vms_state ON vms(state);
CREATE INDEX IF NOT EXISTS idx_vms_name ON vms(name);
CREATE INDEX IF NOT EXISTS idx_vms_acquisition ON vms(pool_id, state, current_agent_id);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	lease_token TEXT NOT NULL UNIQUE,
	vm_id TEXT NOT NULL REFERENCES vms(id),
	pool_id TEXT NOT NULL,
	reset_on_release INTEGER NOT NULL DEFAULT 0,
	acquired_at TEXT NOT NULL,
	released_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_agents_lease_token ON agents(lease_token);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, fmt.Errorf("init schema: %w", err))
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---- templates ----

func (s *SQLiteStore) InsertTemplate(t *domain.Template) error {
	software, _ := json.Marshal(t.InstalledSoftware)
	_, err := s.db.Exec(
		`INSERT INTO templates (id, name, vhdx_path, memory_mb, cpu_count, gpu_enabled, installed_software, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.VHDXPath, t.MemoryMB, t.CPUCount, boolToInt(t.GPUEnabled), string(software), t.Description, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteErr(err, "template")
	}
	return nil
}

func (s *SQLiteStore) scanTemplate(row interface{ Scan(...interface{}) error }) (*domain.Template, error) {
	var t domain.Template
	var software, description sql.NullString
	var createdAt string
	var gpu int
	if err := row.Scan(&t.ID, &t.Name, &t.VHDXPath, &t.MemoryMB, &t.CPUCount, &gpu, &software, &description, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, orcerrors.New(orcerrors.NotFound, "template not found")
		}
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	t.GPUEnabled = gpu != 0
	t.Description = description.String
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if software.Valid && software.String != "" {
		_ = json.Unmarshal([]byte(software.String), &t.InstalledSoftware)
	}
	return &t, nil
}

func (s *SQLiteStore) GetTemplate(id string) (*domain.Template, error) {
	row := s.db.QueryRow(`SELECT id, name, vhdx_path, memory_mb, cpu_count, gpu_enabled, installed_software, description, created_at FROM templates WHERE id = ?`, id)
	return s.scanTemplate(row)
}

func (s *SQLiteStore) GetTemplateByName(name string) (*domain.Template, error) {
	row := s.db.QueryRow(`SELECT id, name, vhdx_path, memory_mb, cpu_count, gpu_enabled, installed_software, description, created_at FROM templates WHERE name = ?`, name)
	return s.scanTemplate(row)
}

func (s *SQLiteStore) ListTemplates() ([]*domain.Template, error) {
	rows, err := s.db.Query(`SELECT id, name, vhdx_path, memory_mb, cpu_count, gpu_enabled, installed_software, description, created_at FROM templates ORDER BY created_at`)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	defer rows.Close()
	var out []*domain.Template
	for rows.Next() {
		t, err := s.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteTemplate(id string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pools WHERE template_id = ?`, id).Scan(&count); err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	if count > 0 {
		return orcerrors.New(orcerrors.Conflict, "template is referenced by one or more pools")
	}
	res, err := s.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "template")
}

// ---- pools ----

func (s *SQLiteStore) InsertPool(p *domain.Pool) error {
	_, err := s.db.Exec(
		`INSERT INTO pools (id, name, template_id, desired_count, warm_count, max_per_host, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.TemplateID, p.DesiredCount, p.WarmCount, p.MaxPerHost, p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteErr(err, "pool")
	}
	return nil
}

func (s *SQLiteStore) scanPool(row interface{ Scan(...interface{}) error }) (*domain.Pool, error) {
	var p domain.Pool
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.TemplateID, &p.DesiredCount, &p.WarmCount, &p.MaxPerHost, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, orcerrors.New(orcerrors.NotFound, "pool not found")
		}
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (s *SQLiteStore) GetPool(id string) (*domain.Pool, error) {
	row := s.db.QueryRow(`SELECT id, name, template_id, desired_count, warm_count, max_per_host, created_at FROM pools WHERE id = ?`, id)
	return s.scanPool(row)
}

func (s *SQLiteStore) GetPoolByName(name string) (*domain.Pool, error) {
	row := s.db.QueryRow(`SELECT id, name, template_id, desired_count, warm_count, max_per_host, created_at FROM pools WHERE name = ?`, name)
	return s.scanPool(row)
}

func (s *SQLiteStore) ListPools() ([]*domain.Pool, error) {
	rows, err := s.db.Query(`SELECT id, name, template_id, desired_count, warm_count, max_per_host, created_at FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	defer rows.Close()
	var out []*domain.Pool
	for rows.Next() {
		p, err := s.scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLiteStore) DeletePool(id string) error {
	// Detach the pool's VMs first so the vms.pool_id foreign key does not
	// refuse the delete.
	if _, err := s.db.Exec(`UPDATE vms SET pool_id = NULL WHERE pool_id = ?`, id); err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	res, err := s.db.Exec(`DELETE FROM pools WHERE id = ?`, id)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "pool")
}

// ---- vms ----

func (s *SQLiteStore) InsertVM(v *domain.VM) error {
	_, err := s.db.Exec(
		`INSERT INTO vms (id, name, template_id, pool_id, state, vhdx_path, ip_address, memory_mb, cpu_count, gpu_enabled, current_agent_id, created_at, last_resumed_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, nullable(v.TemplateID), nullable(v.PoolID), v.State, v.VHDXPath, nullable(v.IPAddress),
		v.MemoryMB, v.CPUCount, boolToInt(v.GPUEnabled), nullable(v.CurrentAgentID), v.CreatedAt.Format(time.RFC3339),
		nullableTime(v.LastResumedAt), nullable(v.ErrorMessage),
	)
	if err != nil {
		return mapWriteErr(err, "vm")
	}
	return nil
}

func (s *SQLiteStore) UpdateVM(v *domain.VM) error {
	res, err := s.db.Exec(
		`UPDATE vms SET template_id=?, pool_id=?, state=?, vhdx_path=?, ip_address=?, memory_mb=?, cpu_count=?, gpu_enabled=?,
		 current_agent_id=?, last_resumed_at=?, error_message=? WHERE id=?`,
		nullable(v.TemplateID), nullable(v.PoolID), v.State, v.VHDXPath, nullable(v.IPAddress),
		v.MemoryMB, v.CPUCount, boolToInt(v.GPUEnabled), nullable(v.CurrentAgentID),
		nullableTime(v.LastResumedAt), nullable(v.ErrorMessage), v.ID,
	)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "vm")
}

func (s *SQLiteStore) scanVM(row interface{ Scan(...interface{}) error }) (*domain.VM, error) {
	var v domain.VM
	var templateID, poolID, ip, agentID, lastResumed, errMsg sql.NullString
	var createdAt string
	var gpu int
	if err := row.Scan(&v.ID, &v.Name, &templateID, &poolID, &v.State, &v.VHDXPath, &ip, &v.MemoryMB, &v.CPUCount,
		&gpu, &agentID, &createdAt, &lastResumed, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return nil, orcerrors.New(orcerrors.NotFound, "vm not found")
		}
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	v.TemplateID = templateID.String
	v.PoolID = poolID.String
	v.IPAddress = ip.String
	v.GPUEnabled = gpu != 0
	v.CurrentAgentID = agentID.String
	v.ErrorMessage = errMsg.String
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastResumed.Valid && lastResumed.String != "" {
		t, err := time.Parse(time.RFC3339, lastResumed.String)
		if err == nil {
			v.LastResumedAt = &t
		}
	}
	return &v, nil
}

const vmColumns = `id, name, template_id, pool_id, state, vhdx_path, ip_address, memory_mb, cpu_count, gpu_enabled, current_agent_id, created_at, last_resumed_at, error_message`

func (s *SQLiteStore) GetVM(id string) (*domain.VM, error) {
	row := s.db.QueryRow(`SELECT `+vmColumns+` FROM vms WHERE id = ?`, id)
	return s.scanVM(row)
}

func (s *SQLiteStore) GetVMByName(name string) (*domain.VM, error) {
	row := s.db.QueryRow(`SELECT `+vmColumns+` FROM vms WHERE name = ?`, name)
	return s.scanVM(row)
}

func (s *SQLiteStore) ListVMs() ([]*domain.VM, error) {
	rows, err := s.db.Query(`SELECT ` + vmColumns + ` FROM vms ORDER BY created_at`)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	defer rows.Close()
	return s.collectVMs(rows)
}

func (s *SQLiteStore) ListVMsByPool(poolID string) ([]*domain.VM, error) {
	rows, err := s.db.Query(`SELECT `+vmColumns+` FROM vms WHERE pool_id = ? ORDER BY created_at`, poolID)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	defer rows.Close()
	return s.collectVMs(rows)
}

func (s *SQLiteStore) collectVMs(rows *sql.Rows) ([]*domain.VM, error) {
	var out []*domain.VM
	for rows.Next() {
		v, err := s.scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *SQLiteStore) CountVMsInPool(poolID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vms WHERE pool_id = ?`, poolID).Scan(&n); err != nil {
		return 0, orcerrors.Wrap(orcerrors.Internal, err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteVM(id string) error {
	res, err := s.db.Exec(`DELETE FROM vms WHERE id = ?`, id)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "vm")
}

// AcquireVM is the atomic find-and-lease step: a single conditional
// UPDATE...RETURNING, not a SELECT followed by an UPDATE. Two concurrent
// callers racing on the same pool cannot both observe the same row as
// available, because SQLite serializes writers.
func (s *SQLiteStore) AcquireVM(poolID, leaseToken string) (*domain.VM, error) {
	row := s.db.QueryRow(
		`UPDATE vms SET current_agent_id = ?
		 WHERE id = (
			 SELECT id FROM vms
			 WHERE pool_id = ? AND state = ? AND current_agent_id IS NULL
			 LIMIT 1
		 )
		 RETURNING `+vmColumns,
		leaseToken, poolID, domain.VMSaved,
	)
	v, err := s.scanVM(row)
	if err != nil {
		if orcerrors.Is(err, orcerrors.NotFound) {
			return nil, orcerrors.New(orcerrors.NoVMAvailable, "no leasable vm in pool")
		}
		return nil, err
	}
	return v, nil
}

func (s *SQLiteStore) ReleaseLease(vmID string) error {
	res, err := s.db.Exec(`UPDATE vms SET current_agent_id = NULL WHERE id = ?`, vmID)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "vm")
}

// ---- agents ----

func (s *SQLiteStore) InsertAgent(a *domain.Agent) error {
	_, err := s.db.Exec(
		`INSERT INTO agents (id, lease_token, vm_id, pool_id, reset_on_release, acquired_at, released_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeaseToken, a.VMID, a.PoolID, boolToInt(a.ResetOnRelease), a.AcquiredAt.Format(time.RFC3339), nullableTime(a.ReleasedAt),
	)
	if err != nil {
		return mapWriteErr(err, "agent")
	}
	return nil
}

func (s *SQLiteStore) CloseAgent(leaseToken string, releasedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE agents SET released_at = ? WHERE lease_token = ?`, releasedAt.Format(time.RFC3339), leaseToken)
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	return requireAffected(res, "agent")
}

func (s *SQLiteStore) GetAgentByLease(leaseToken string) (*domain.Agent, error) {
	var a domain.Agent
	var acquiredAt string
	var releasedAt sql.NullString
	var reset int
	err := s.db.QueryRow(`SELECT id, lease_token, vm_id, pool_id, reset_on_release, acquired_at, released_at FROM agents WHERE lease_token = ?`, leaseToken).
		Scan(&a.ID, &a.LeaseToken, &a.VMID, &a.PoolID, &reset, &acquiredAt, &releasedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, orcerrors.New(orcerrors.NotFound, "agent lease not found")
		}
		return nil, orcerrors.Wrap(orcerrors.Internal, err)
	}
	a.ResetOnRelease = reset != 0
	a.AcquiredAt, _ = time.Parse(time.RFC3339, acquiredAt)
	if releasedAt.Valid && releasedAt.String != "" {
		t, err := time.Parse(time.RFC3339, releasedAt.String)
		if err == nil {
			a.ReleasedAt = &t
		}
	}
	return &a, nil
}

// ---- helpers ----

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return orcerrors.Wrap(orcerrors.Internal, err)
	}
	if n == 0 {
		return orcerrors.Newf(orcerrors.NotFound, "%s not found", what)
	}
	return nil
}

func mapWriteErr(err error, what string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return orcerrors.Newf(orcerrors.Conflict, "%s conflicts with an existing record", what)
	}
	return orcerrors.Wrap(orcerrors.Internal, err)
}

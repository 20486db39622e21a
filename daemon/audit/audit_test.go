// SPDX-License-Identifier: LGPL-3.0-or-later

package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewFileLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(tmpDir, 10, 30, 5)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.directory != tmpDir {
		t.Errorf("expected directory %s, got %s", tmpDir, logger.directory)
	}
	if logger.maxSize != 10*1024*1024 {
		t.Errorf("expected maxSize 10MB, got %d", logger.maxSize)
	}
}

func TestLogEvent(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(tmpDir, 10, 30, 5)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	event := NewEvent(EventTypeLeaseAcquired, "vm-1")
	event.Status = EventStatusSuccess
	event.PoolID = "pool-1"
	event.LeaseToken = "lease-abc"
	event.Details["ip_address"] = "10.0.0.42"

	if err := logger.Log(event); err != nil {
		t.Errorf("failed to log event: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(tmpDir, "audit-*.log"))
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("expected 1 log file, got %d", len(files))
	}
}

func TestQueryEvents(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(tmpDir, 10, 30, 5)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	events := []*Event{
		{ID: "1", EventType: EventTypeLeaseAcquired, Status: EventStatusSuccess, VMID: "vm-1", PoolID: "pool-1"},
		{ID: "2", EventType: EventTypeLeaseReleased, Status: EventStatusSuccess, VMID: "vm-2", PoolID: "pool-1"},
		{ID: "3", EventType: EventTypeLeaseAcquired, Status: EventStatusFailure, VMID: "vm-3", PoolID: "pool-1", Error: "no vm available"},
	}
	for _, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		if err := logger.Log(event); err != nil {
			t.Errorf("failed to log event: %v", err)
		}
	}

	results, err := logger.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("failed to query events: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 events, got %d", len(results))
	}

	results, err = logger.Query(QueryFilter{VMID: "vm-1"})
	if err != nil {
		t.Fatalf("failed to query by vm id: %v", err)
	}
	if len(results) != 1 || results[0].VMID != "vm-1" {
		t.Errorf("expected 1 event for vm-1, got %d", len(results))
	}

	results, err = logger.Query(QueryFilter{EventType: EventTypeLeaseAcquired})
	if err != nil {
		t.Fatalf("failed to query by event type: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 lease_acquired events, got %d", len(results))
	}

	results, err = logger.Query(QueryFilter{Status: EventStatusFailure})
	if err != nil {
		t.Fatalf("failed to query by status: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 failure event, got %d", len(results))
	}
}

func TestQueryWithLimit(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(tmpDir, 10, 30, 5)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 10; i++ {
		event := NewEvent(EventTypeReconcile, "")
		event.Status = EventStatusSuccess
		logger.Log(event)
	}

	results, err := logger.Query(QueryFilter{Limit: 5})
	if err != nil {
		t.Fatalf("failed to query with limit: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("expected 5 events, got %d", len(results))
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTypeVMProvisioned, "vm-9")

	if event.ID == "" {
		t.Error("expected event ID to be generated")
	}
	if event.EventType != EventTypeVMProvisioned {
		t.Errorf("expected event type vm_provisioned, got %s", event.EventType)
	}
	if event.VMID != "vm-9" {
		t.Errorf("expected vm id vm-9, got %s", event.VMID)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if event.Details == nil {
		t.Error("expected details map to be initialized")
	}
}

func TestEventTypes(t *testing.T) {
	types := []EventType{
		EventTypeLeaseAcquired,
		EventTypeLeaseReleased,
		EventTypeLeaseReset,
		EventTypeLeaseForceReleased,
		EventTypeVMProvisioned,
		EventTypeVMPrepared,
		EventTypeVMDeleted,
		EventTypeReconcile,
	}
	if len(types) != 8 {
		t.Errorf("expected 8 event types, got %d", len(types))
	}
}

func TestEventStatus(t *testing.T) {
	statuses := []EventStatus{EventStatusSuccess, EventStatusFailure}
	if len(statuses) != 2 {
		t.Errorf("expected 2 event statuses, got %d", len(statuses))
	}
}

func TestLogRotation(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(tmpDir, 1, 30, 5)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.maxSize = 1024

	for i := 0; i < 100; i++ {
		event := NewEvent(EventTypeLeaseAcquired, "vm-1")
		event.Status = EventStatusSuccess
		event.Details["iteration"] = i
		logger.Log(event)
	}

	files, err := filepath.Glob(filepath.Join(tmpDir, "audit-*.log*"))
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}
	if len(files) == 0 {
		t.Error("expected at least one log file")
	}
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditEntry is an append-only audit event for a state-changing API call.
type AuditEntry struct {
	RequestID    string
	ActorID      string
	ActorRole    string
	HTTPMethod   string
	Endpoint     string
	Operation    string
	ResourceType string
	ResourceID   string
	Severity     string // defaults to info
	BeforeData   any
	AfterData    any
	Metadata     map[string]any
}

// InsertAuditEntry appends an audit event. The target table is immutable.
func (db *DB) InsertAuditEntry(ctx context.Context, e AuditEntry) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	var (
		beforeJSON []byte
		afterJSON  []byte
		err        error
	)
	if e.BeforeData != nil {
		beforeJSON, err = json.Marshal(e.BeforeData)
		if err != nil {
			return fmt.Errorf("storage: marshal audit before_data: %w", err)
		}
	}
	if e.AfterData != nil {
		afterJSON, err = json.Marshal(e.AfterData)
		if err != nil {
			return fmt.Errorf("storage: marshal audit after_data: %w", err)
		}
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal audit metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO audit_log (
		     request_id, actor_id, actor_role,
		     http_method, endpoint, operation, resource_type, resource_id,
		     severity, before_data, after_data, metadata
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12::jsonb)`,
		e.RequestID, e.ActorID, e.ActorRole,
		e.HTTPMethod, e.Endpoint, e.Operation, e.ResourceType, e.ResourceID,
		e.Severity, beforeJSON, afterJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit entry: %w", err)
	}
	return nil
}

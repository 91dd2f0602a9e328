package workflow

import (
	"encoding/json"
	"time"
)

// metadataSchemaVersion tracks the layout of the metadata JSON column so the
// shape can evolve without ad-hoc key probing.
const metadataSchemaVersion = 1

// LockStatus describes the state of a workflow lock lease.
type LockStatus string

const (
	LockRunning   LockStatus = "running"
	LockCompleted LockStatus = "completed"
	LockFailed    LockStatus = "failed"
)

// LockInfo is the time-boxed exclusive execution claim embedded in record
// metadata. A lock is active while its status is running and the lease has
// not elapsed; an expired running lock is stale and reclaimable.
type LockInfo struct {
	LockID     string     `json:"lock_id"`
	Holder     string     `json:"holder"`
	Status     LockStatus `json:"status"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	// ReclaimedFrom records the lock ID this acquisition displaced, making
	// double-execution incidents auditable after the fact.
	ReclaimedFrom string `json:"reclaimed_from,omitempty"`
}

// Active reports whether the lock still holds exclusive rights at now.
func (l *LockInfo) Active(lease time.Duration, now time.Time) bool {
	if l == nil || l.Status != LockRunning {
		return false
	}
	return now.Sub(l.AcquiredAt) < lease
}

// Stale reports whether a running lock has outlived its lease.
func (l *LockInfo) Stale(lease time.Duration, now time.Time) bool {
	if l == nil || l.Status != LockRunning {
		return false
	}
	return now.Sub(l.AcquiredAt) >= lease
}

// StageHistoryEntry is one ordered entry in a record's stage history.
type StageHistoryEntry struct {
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

const (
	HistoryStarted   = "started"
	HistoryCompleted = "completed"
	HistoryFailed    = "failed"
)

// Metadata is the structured document persisted in the record's single
// flexible metadata column.
type Metadata struct {
	SchemaVersion int                 `json:"schema_version"`
	Lock          *LockInfo           `json:"lock,omitempty"`
	History       []StageHistoryEntry `json:"history,omitempty"`
	// Payload accumulates stage outputs so replays and re-dispatches
	// see everything earlier stages produced.
	Payload        map[string]any `json:"payload,omitempty"`
	AutoFixApplied bool           `json:"auto_fix_applied,omitempty"`
	AutoFixReason  string         `json:"auto_fix_reason,omitempty"`
}

// MergePayload folds stage output into the accumulated payload.
func (m *Metadata) MergePayload(output map[string]any) {
	if len(output) == 0 {
		return
	}
	if m.Payload == nil {
		m.Payload = make(map[string]any, len(output))
	}
	for k, v := range output {
		m.Payload[k] = v
	}
}

// AppendHistory adds an entry stamped with the current time.
func (m *Metadata) AppendHistory(stage, status, detail string) {
	m.History = append(m.History, StageHistoryEntry{
		Stage:     stage,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// MarshalMetadata encodes metadata for storage, stamping the schema version.
func MarshalMetadata(m Metadata) (string, error) {
	m.SchemaVersion = metadataSchemaVersion
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadata decodes stored metadata. Empty input yields a zero
// document rather than an error so legacy rows stay readable.
func UnmarshalMetadata(data string) (Metadata, error) {
	meta := Metadata{SchemaVersion: metadataSchemaVersion}
	if data == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return Metadata{}, err
	}
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = metadataSchemaVersion
	}
	return meta, nil
}

// Package ledger provides an append-only history of lamp sync activity.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventPushSent     EventType = "push_sent"
	EventPushFailed   EventType = "push_failed"
	EventPushSkipped  EventType = "push_skipped"
	EventProbeOK      EventType = "probe_ok"
	EventProbeFailed  EventType = "probe_failed"
	EventStatusPulled EventType = "status_pulled"
	EventDiscovery    EventType = "discovery"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID            int64          `json:"id"`
	EventType     EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, payload map[string]any) error {
	return l.AppendWithSource(eventType, "", "", payload)
}

// AppendWithSource adds a new event tagged with its origin and a correlation id
// linking related entries (e.g. a push and its outcome)
func (l *Ledger) AppendWithSource(eventType EventType, source, correlationID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, correlation_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().UnixMilli(), string(payloadJSON), source, correlationID,
	)
	return err
}

// Recent returns the newest entries of any type
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByCorrelation returns all entries sharing a correlation id, oldest first
func (l *Ledger) GetByCorrelation(correlationID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE correlation_id = ?
		ORDER BY timestamp ASC, id ASC
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, correlationID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &correlationID)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if correlationID.Valid {
			entry.CorrelationID = correlationID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/lampyd/internal/db"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	l := openTestLedger(t)

	if err := l.Append(EventProbeOK, nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.AppendWithSource(EventPushSent, "debounce", "c-1", map[string]any{"pattern": 3}); err != nil {
		t.Fatalf("AppendWithSource() error = %v", err)
	}
	if err := l.Append(EventProbeFailed, map[string]any{"error": "timeout"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].EventType != EventProbeFailed || entries[2].EventType != EventProbeOK {
		t.Errorf("order = %s, %s, %s", entries[0].EventType, entries[1].EventType, entries[2].EventType)
	}

	push := entries[1]
	if push.Source != "debounce" || push.CorrelationID != "c-1" {
		t.Errorf("push entry = %+v", push)
	}
	if v, ok := push.Payload["pattern"].(float64); !ok || v != 3 {
		t.Errorf("payload = %v", push.Payload)
	}
	if entries[2].Payload != nil {
		t.Errorf("nil payload round-tripped as %v", entries[2].Payload)
	}

	limited, err := l.Recent(1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Recent(1) = %d entries, err %v", len(limited), err)
	}
}

func TestGetByTypeAndCorrelation(t *testing.T) {
	l := openTestLedger(t)

	l.AppendWithSource(EventPushSent, "", "a", nil)
	l.AppendWithSource(EventPushFailed, "", "b", nil)
	l.AppendWithSource(EventPushSent, "", "c", nil)

	sent, err := l.GetByType(EventPushSent, 10)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(sent) != 2 {
		t.Errorf("push_sent count = %d, want 2", len(sent))
	}

	byCorr, err := l.GetByCorrelation("b")
	if err != nil {
		t.Fatalf("GetByCorrelation() error = %v", err)
	}
	if len(byCorr) != 1 || byCorr[0].EventType != EventPushFailed {
		t.Errorf("GetByCorrelation(b) = %+v", byCorr)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	l := openTestLedger(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	l.Append(EventDiscovery, nil)
	l.now = func() time.Time { return base.Add(-time.Hour) }
	l.Append(EventProbeOK, nil)

	l.now = func() time.Time { return base }
	n, err := l.DeleteOlderThan(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	left, _ := l.Recent(10)
	if len(left) != 1 || left[0].EventType != EventProbeOK {
		t.Errorf("remaining = %+v", left)
	}
}

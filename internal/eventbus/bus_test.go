package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublish_DeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var got atomic.Int32
	handler := func(e Event) {
		if e.String("state") == "connected" {
			got.Add(1)
		}
		wg.Done()
	}
	b.Subscribe(EventTypeConnectionChanged, handler)
	b.Subscribe(EventTypeConnectionChanged, handler)
	b.Subscribe(EventTypeStateChanged, func(Event) { t.Error("wrong subscriber called") })

	b.Publish(Event{Type: EventTypeConnectionChanged, Data: map[string]any{"state": "connected"}})

	waitTimeout(t, &wg)
	if got.Load() != 2 {
		t.Errorf("handled = %d, want 2", got.Load())
	}
}

func TestPublish_RecoversPanics(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypeSettingsPushed, func(Event) { panic("boom") })
	b.Subscribe(EventTypeSettingsPushed, func(Event) { wg.Done() })

	b.Publish(Event{Type: EventTypeSettingsPushed})
	waitTimeout(t, &wg)
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := NewWithConfig(1, 1)
	defer b.Close(context.Background())

	release := make(chan struct{})
	var handled atomic.Int32
	b.Subscribe(EventTypeStateChanged, func(Event) {
		<-release
		handled.Add(1)
	})

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: EventTypeStateChanged})
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	if n := handled.Load(); n > 2 {
		t.Errorf("handled = %d, expected drops with queue size 1", n)
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := New()
	b.Close(context.Background())
	b.Close(context.Background())

	// publishing after close is dropped, not a panic
	b.Subscribe(EventTypeDevicesDiscovered, func(Event) {})
	b.Publish(Event{Type: EventTypeDevicesDiscovered})
}

func TestEvent_String(t *testing.T) {
	e := Event{Data: map[string]any{"a": "x", "n": 3}}
	if e.String("a") != "x" || e.String("n") != "" || e.String("missing") != "" {
		t.Errorf("unexpected String results")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}

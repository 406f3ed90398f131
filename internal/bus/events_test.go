package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On("test.event", func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: "test.event", Payload: "value"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "event.a"})
	eb.Emit(Event{Type: "event.b"})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On("x", func(e Event) { atomic.AddInt32(&a, 1) })
	eb.On("x", func(e Event) { atomic.AddInt32(&b, 1) })
	eb.Off("x", idA)
	// IDs stay unique after removal.
	idC := eb.On("x", func(e Event) {})
	if idC == idA {
		t.Fatalf("handler id reused: %s", idC)
	}

	eb.Emit(Event{Type: "x"})
	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Fatalf("unexpected calls a=%d b=%d", a, b)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On("panic", func(e Event) {
		panic("test panic")
	})
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})
	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("handlers after a panicking one should still run")
	}
}

func TestEventBus_EmitAsyncAndWait(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On("async", func(e Event) {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&received, 1)
	})

	for i := 0; i < 5; i++ {
		eb.EmitAsync(Event{Type: "async"})
	}
	eb.Wait()

	if atomic.LoadInt32(&received) != 5 {
		t.Errorf("expected 5, got %d", received)
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got time.Time
	eb.On("test", func(e Event) { got = e.Timestamp })
	eb.Emit(Event{Type: "test"})

	if got.IsZero() {
		t.Error("timestamp should be auto-set")
	}
}

func TestEventBus_OnRelayCompletedFiltersPayload(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got []domain.RelayRecord
	eb.OnRelayCompleted(func(rec domain.RelayRecord) { got = append(got, rec) })

	eb.Emit(RelayCompleted(domain.RelayRecord{ID: "r1", Channel: "telegram"}))
	eb.Emit(Event{Type: EventRelayCompleted, Payload: "junk"})
	eb.Emit(MessageReceived("telegram", "m1"))

	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected one record r1, got %+v", got)
	}
}

func TestEventConstructors(t *testing.T) {
	e := RelayCompleted(domain.RelayRecord{Channel: "whatsapp"})
	if e.Type != EventRelayCompleted || e.Source != "whatsapp" {
		t.Fatalf("unexpected relay event %+v", e)
	}
	e = HistoryReset("cli", "cli:user")
	if e.Type != EventHistoryReset || e.Payload != "cli:user" {
		t.Fatalf("unexpected reset event %+v", e)
	}
}

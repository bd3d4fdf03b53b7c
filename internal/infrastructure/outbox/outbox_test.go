package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domoutbox "github.com/cleanandflip/marketplace/internal/domain/outbox"
)

type testEvent struct{ name, payload string }

func (e testEvent) EventName() string { return e.name }

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil)
	got := make(chan string, 2)
	bus.Subscribe("cart_update", func(_ context.Context, e domoutbox.Event) error {
		got <- e.(testEvent).payload
		return nil
	})
	bus.Subscribe("cart_update", func(context.Context, domoutbox.Event) error {
		got <- "second"
		return errors.New("handler errors are only logged")
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	if err := bus.Publish(context.Background(), testEvent{name: "cart_update", payload: "first"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-got:
			seen[p] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery, saw %v", seen)
		}
	}
	if !seen["first"] || !seen["second"] {
		t.Fatalf("unexpected deliveries %v", seen)
	}
}

func TestBusRecoversFromHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	delivered := make(chan struct{})
	var once sync.Once
	bus.Subscribe("order_created", func(context.Context, domoutbox.Event) error {
		panic("boom")
	})
	bus.Subscribe("order_created", func(context.Context, domoutbox.Event) error {
		once.Do(func() { close(delivered) })
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	if err := bus.Publish(context.Background(), testEvent{name: "order_created"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy handler did not run")
	}
}

func TestStopDrainsQueueAndRejectsNewEvents(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	count := 0
	bus.Subscribe("cart_update", func(context.Context, domoutbox.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(context.Background(), testEvent{name: "cart_update"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	bus.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected 5 deliveries before stop returned, got %d", count)
	}
	if err := bus.Publish(context.Background(), testEvent{name: "cart_update"}); !errors.Is(err, ErrBusStopped) {
		t.Fatalf("expected ErrBusStopped, got %v", err)
	}
}

func TestPublishHonoursContextWhenQueueIsFull(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	if err := bus.Publish(context.Background(), testEvent{name: "cart_update"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Publish(ctx, testEvent{name: "cart_update"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

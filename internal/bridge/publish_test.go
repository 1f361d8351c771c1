package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
)

// droppingPublisher fails every publish and reports the broker as gone,
// like an mqtt.Client whose reconnect attempt failed.
type droppingPublisher struct {
	mu       sync.Mutex
	attempts int
}

func (d *droppingPublisher) Publish(string, []byte, byte, bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	return errors.New("not connected")
}

func (d *droppingPublisher) IsConnected() bool { return false }

func TestPublishAll(t *testing.T) {
	topics := []telemetry.Topic{
		{Path: "p/1/a/x", Payload: "1"},
		{Path: "p/1/a/y", Payload: "2", Retain: true},
		{Path: "p/1/b/z", Payload: "on"},
	}
	ctx := context.Background()

	t.Run("all succeed", func(t *testing.T) {
		pub := newMockPublisher()
		failed, err := publishAll(ctx, pub, topics, 0)
		if failed != 0 || err != nil {
			t.Fatalf("publishAll() = %d, %v", failed, err)
		}
		msgs := pub.getMessages()
		if len(msgs) != 3 || !msgs[1].retained || msgs[0].retained {
			t.Errorf("messages = %+v", msgs)
		}
	})

	t.Run("failures do not stop the sequence", func(t *testing.T) {
		pub := newMockPublisher()
		pub.fail("p/1/a/x")
		pub.fail("p/1/b/z")

		failed, err := publishAll(ctx, pub, topics, 1)
		if failed != 2 {
			t.Errorf("failed = %d, want 2", failed)
		}
		if n := len(pub.getMessages()); n != 3 {
			t.Errorf("attempts = %d, want 3", n)
		}
		var publishErr *PublishError
		if !errors.As(err, &publishErr) || publishErr.Total != 3 || publishErr.Failed != 2 {
			t.Errorf("error = %#v", err)
		}
	})

	t.Run("disconnected broker stops the sequence", func(t *testing.T) {
		pub := &droppingPublisher{}

		failed, err := publishAll(ctx, pub, topics, 1)
		if failed != 3 {
			t.Errorf("failed = %d, want 3", failed)
		}
		if pub.attempts != 1 {
			t.Errorf("attempts = %d, want 1", pub.attempts)
		}
		if !errors.Is(err, ErrBrokerDown) {
			t.Errorf("error = %v, want ErrBrokerDown", err)
		}
	})

	t.Run("ended context skips remaining topics", func(t *testing.T) {
		pub := newMockPublisher()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		failed, err := publishAll(cancelled, pub, topics, 1)
		if failed != 3 {
			t.Errorf("failed = %d, want 3", failed)
		}
		if n := len(pub.getMessages()); n != 0 {
			t.Errorf("attempts = %d, want 0", n)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if failed, err := publishAll(ctx, newMockPublisher(), nil, 1); failed != 0 || err != nil {
			t.Errorf("publishAll(nil) = %d, %v", failed, err)
		}
	})
}

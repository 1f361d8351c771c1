package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
)

// maxJoinedErrors bounds how many publish errors are kept per cycle.
const maxJoinedErrors = 3

// connectionReporter is implemented by publishers that know whether their
// broker connection is up, such as *mqtt.Client.
type connectionReporter interface {
	IsConnected() bool
}

// publishAll publishes every topic in order. A failed topic does not stop
// the remaining topics from being attempted, with two exceptions: ctx ends,
// or a publish fails and leaves the publisher disconnected. Each topic that
// was not attempted counts as failed.
//
// Returns the number of failed topics and, when any failed, a *PublishError.
func publishAll(ctx context.Context, pub Publisher, topics []telemetry.Topic, qos byte) (int, error) {
	var (
		failed int
		errs   []error
	)
	conn, tracksConn := pub.(connectionReporter)

	for i, t := range topics {
		if err := ctx.Err(); err != nil {
			failed += len(topics) - i
			errs = append(errs, fmt.Errorf("%d topics not attempted: %w", len(topics)-i, err))
			break
		}

		err := pub.Publish(t.Path, []byte(t.Payload), qos, t.Retain)
		if err == nil {
			continue
		}
		failed++
		if len(errs) < maxJoinedErrors {
			errs = append(errs, fmt.Errorf("%s: %w", t.Path, err))
		}

		if tracksConn && !conn.IsConnected() {
			if rest := len(topics) - i - 1; rest > 0 {
				failed += rest
				errs = append(errs, fmt.Errorf("%d topics not attempted: %w", rest, ErrBrokerDown))
			}
			break
		}
	}
	if failed == 0 {
		return 0, nil
	}
	return failed, &PublishError{Failed: failed, Total: len(topics), Err: errors.Join(errs...)}
}

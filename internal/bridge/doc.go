// Package bridge runs the poll cycle that moves VRM diagnostics onto MQTT.
//
// A Scheduler owns the single live credential and the PollState. Each cycle
// obtains a credential, polls the site, maps the snapshot to topics and
// publishes them, then records the outcome and sleeps until the next tick.
// Cycles never overlap: they run one after another on the goroutine that
// called Run.
//
// Failure handling is decided here and nowhere else:
//
//   - AuthRejected: re-authenticate once within the cycle and poll again
//   - Transient: count the failure and back off, min(T*2^n, max_backoff)
//   - Fatal: stop the loop and return *FatalError
//
// An authentication failure before any credential has been accepted is also
// fatal, since retrying a wrong password only risks locking the account.
package bridge

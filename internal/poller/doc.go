// Package poller fetches one telemetry snapshot per call for the configured
// VRM site.
//
// Poll reads the site's diagnostics and flattens each record into a
// snapshot key "<device>_<instance>.<description>". Failures are reported as
// *Error carrying a Kind:
//
//   - KindAuthRejected: the credential is invalid or expired
//   - KindTransient: timeouts, 5xx, rate limits, undecodable bodies
//   - KindFatal: the site does not exist or is not accessible to the account
//
// A 403 on the diagnostics call is ambiguous, so the poller asks for the
// account's installations with the same credential: a rejection there means
// the credential is bad, a successful answer means the site itself is denied.
package poller

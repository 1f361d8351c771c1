// Package credential persists the VRM credential between process runs.
//
// A Credential is the token plus the VRM account identifier (idUser) needed
// to call the API. Exactly one credential is live per process; the scheduler
// owns it and hands copies to the poller.
//
// Two Store implementations exist:
//   - FileStore: a JSON file replaced atomically (temp file + rename),
//     optionally encrypted with an age passphrase
//   - SQLiteStore: a single row in the bridge database
//
// Load never fails loudly: a missing, unreadable, undecryptable or malformed
// cache is reported as absent and logged, so callers re-authenticate.
//
// # Security
//
// Credential implements slog.LogValuer; logging one prints the account and a
// redacted token prefix only.
package credential

// Package auth obtains and caches the bridge's VRM credential.
//
// The lifecycle is Unauthenticated → Authenticating → Authenticated →
// Expired/Rejected → Authenticating. EnsureValid trusts a cached credential
// without a network round-trip unless it carries a known expiry that has
// passed; Reauthenticate always logs in again.
//
// In access mode a successful login is exchanged for a named personal access
// token ("Token <t>"). A token of the same name left by an earlier run is
// revoked first when revoke_duplicate_token is set; otherwise a new one is
// requested and the VRM service decides whether to issue it. In bearer mode
// the session JWT from the login is the credential ("Bearer <t>").
//
// Every successful authentication is persisted through credential.Store
// before the credential is handed to the caller.
package auth

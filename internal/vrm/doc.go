// Package vrm is a client for the Victron VRM v2 REST API.
//
// It covers the calls the bridge needs: password login, access token
// management, the installations list and per-site diagnostics. Every call
// takes the value of the x-authorization header explicitly; the client holds
// no credential of its own.
//
// Failures are returned as *APIError, which unwraps to one of the sentinel
// errors in errors.go. IsTransient and IsAuth group them for callers that
// decide between retry, re-authentication and giving up.
package vrm

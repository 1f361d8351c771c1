package auth

import "errors"

var (
	// ErrAuthentication indicates the VRM service refused the configured
	// account or refused to issue a token. Retrying unchanged will not help.
	ErrAuthentication = errors.New("auth: authentication failed")

	// ErrPersist indicates a credential was obtained but could not be saved.
	// The credential is discarded.
	ErrPersist = errors.New("auth: persisting credential failed")
)

package credential

import "errors"

var (
	// ErrInvalidCredential is returned by Save for a credential without a
	// token, an account identifier, or a known kind.
	ErrInvalidCredential = errors.New("credential: invalid credential")

	// ErrMalformed marks a stored record that cannot be decoded.
	ErrMalformed = errors.New("credential: malformed cache")
)

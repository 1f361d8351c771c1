package telemetry

import "errors"

// ErrUnsupportedValue is returned by NewSnapshot for a value that is not a
// scalar (numeric, boolean, string) or nil.
var ErrUnsupportedValue = errors.New("telemetry: unsupported metric value")

package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm"
)

// API is the part of the VRM API used for polling. *vrm.Client satisfies it.
type API interface {
	Diagnostics(ctx context.Context, auth string, siteID string) ([]vrm.Diagnostic, error)
	Installations(ctx context.Context, auth string, userID vrm.ID) ([]vrm.Installation, error)
}

// Logger is the logging interface used by the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Poller fetches diagnostics snapshots.
type Poller struct {
	api API
	now func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a poller.
func New(api API) *Poller {
	return &Poller{api: api, now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Poller) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Poll fetches the current diagnostics of siteID.
//
// ObservedAt of the returned snapshot is the local time the fetch completed.
//
// Returns:
//   - telemetry.Snapshot: The flattened diagnostics
//   - error: *Error with the failure's Kind
func (p *Poller) Poll(ctx context.Context, siteID string, cred credential.Credential) (telemetry.Snapshot, error) {
	records, err := p.api.Diagnostics(ctx, cred.Authorization(), siteID)
	if err != nil {
		return telemetry.Snapshot{}, p.classify(ctx, siteID, cred, err)
	}
	observedAt := p.now()

	metrics, skipped := flatten(records)
	if skipped > 0 {
		p.getLogger().Debug("skipped diagnostics records", "site_id", siteID, "skipped", skipped)
	}

	snap, err := telemetry.NewSnapshot(siteID, observedAt, metrics)
	if err != nil {
		return telemetry.Snapshot{}, &Error{Kind: KindTransient, Err: err}
	}
	return snap, nil
}

func (p *Poller) classify(ctx context.Context, siteID string, cred credential.Credential, err error) error {
	switch {
	case errors.Is(err, vrm.ErrUnauthorized):
		return &Error{Kind: KindAuthRejected, Err: err}
	case errors.Is(err, vrm.ErrForbidden):
		return p.classifyForbidden(ctx, siteID, cred, err)
	case errors.Is(err, vrm.ErrNotFound), errors.Is(err, vrm.ErrClient):
		return &Error{Kind: KindFatal, Err: err}
	default:
		return &Error{Kind: KindTransient, Err: err}
	}
}

// classifyForbidden decides whether a 403 on diagnostics is about the
// credential or about the site.
func (p *Poller) classifyForbidden(ctx context.Context, siteID string, cred credential.Credential, forbidden error) error {
	sites, err := p.api.Installations(ctx, cred.Authorization(), vrm.ID(cred.AccountID))
	switch {
	case err == nil:
	case vrm.IsAuth(err):
		return &Error{Kind: KindAuthRejected, Err: forbidden}
	case vrm.IsTransient(err):
		return &Error{Kind: KindTransient, Err: fmt.Errorf("%w (checking installations: %w)", forbidden, err)}
	default:
		return &Error{Kind: KindFatal, Err: fmt.Errorf("%w (checking installations: %w)", forbidden, err)}
	}

	for _, site := range sites {
		if site.ID.String() == siteID {
			return &Error{Kind: KindFatal, Err: fmt.Errorf("%w: site %s: %w", ErrSiteDenied, siteID, forbidden)}
		}
	}
	p.getLogger().Warn("site not among account installations", "site_id", siteID, "installations", len(sites))
	return &Error{Kind: KindFatal, Err: fmt.Errorf("%w: site %s", ErrSiteNotFound, siteID)}
}

// flatten turns diagnostics records into snapshot metrics. Records without
// a description or with a structured value are skipped.
func flatten(records []vrm.Diagnostic) (map[string]any, int) {
	metrics := make(map[string]any, len(records))
	skipped := 0
	for _, r := range records {
		metric := normalizeName(r.Description)
		if metric == "" {
			skipped++
			continue
		}
		value, ok := scalar(r.RawValue)
		if !ok {
			skipped++
			continue
		}
		device := normalizeName(r.Device)
		if device == "" {
			device = "unknown"
		}
		metrics[device+"_"+normalizeName(r.Instance.String())+"."+metric] = value
	}
	return metrics, skipped
}

// normalizeName lower-cases s and replaces spaces and path separators
// with underscores.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '.', '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}

// scalar converts a decoded rawValue into a snapshot value.
func scalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return x.String(), true
	case string, bool, float64:
		return x, true
	default:
		return nil, false
	}
}

package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"tinadmin.org/internal/auth"
	"tinadmin.org/internal/ids"
	"tinadmin.org/internal/obs"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500

	defaultWriteWait    = 250 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second
	maxPendingWrites    = 64
)

// ErrStorageUnavailable is returned by stores when the audit table is missing or
// the database cannot be reached.
var ErrStorageUnavailable = errors.New("audit: storage unavailable")

var errWriteBacklog = errors.New("audit: too many pending writes")

// Entry is an immutable audit record.
type Entry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	TenantID    string         `json:"tenant_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource,omitempty"`
	Permission  string         `json:"permission,omitempty"`
	Allowed     bool           `json:"allowed"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	UserID      string
	TenantID    string
	WorkspaceID string
	Action      string
	Limit       int
}

func (f Filter) matches(e Entry) bool {
	return (f.UserID == "" || e.UserID == f.UserID) &&
		(f.TenantID == "" || e.TenantID == f.TenantID) &&
		(f.WorkspaceID == "" || e.WorkspaceID == f.WorkspaceID) &&
		(f.Action == "" || e.Action == f.Action)
}

// Store persists entries. ListAuditEntries returns most recent first.
type Store interface {
	AppendAuditEntry(ctx context.Context, e Entry) error
	ListAuditEntries(ctx context.Context, f Filter) ([]Entry, error)
}

// Logger records audit entries without ever failing or stalling its caller.
type Logger struct {
	store   Store
	now     func() time.Time
	wait    time.Duration
	timeout time.Duration
	pending chan struct{}
}

var _ auth.DecisionRecorder = (*Logger)(nil)

// Option configures Logger.
type Option func(*Logger)

// WithWriteTimeouts sets how long Log waits for a store write before returning
// (wait) and how long the write itself may run (timeout).
func WithWriteTimeouts(wait, timeout time.Duration) Option {
	return func(l *Logger) {
		if wait > 0 {
			l.wait = wait
		}
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// NewLogger returns a Logger. A nil store sends every entry to the process log.
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:   store,
		now:     time.Now,
		wait:    defaultWriteWait,
		timeout: defaultWriteTimeout,
		pending: make(chan struct{}, maxPendingWrites),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log persists e. The write runs detached from ctx cancellation and is bounded by
// the write timeout; Log returns after at most the write wait. Failed, late-failing
// and backlogged entries go to the process log instead.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.CreatedAt)
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		meta := make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			meta[k] = v
		}
		meta["request_id"] = rid
		e.Metadata = meta
	}

	if l.store == nil {
		fallback(ErrStorageUnavailable, e)
		return
	}
	select {
	case l.pending <- struct{}{}:
	default:
		fallback(errWriteBacklog, e)
		return
	}

	done := make(chan struct{})
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	go func() {
		defer func() { <-l.pending }()
		defer cancel()
		defer close(done)
		if err := l.store.AppendAuditEntry(wctx, e); err != nil {
			fallback(err, e)
		}
	}()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

func fallback(err error, e Entry) {
	obs.AuditWriteFailures.Inc()
	obs.Logger().Warn("audit write failed",
		zap.Error(err),
		zap.String("type", "audit"),
		zap.Any("entry", e),
	)
}

// Query lists entries matching f, most recent first, at most f.Limit (default 50,
// capped at 500). Storage failures yield an empty result.
func (l *Logger) Query(ctx context.Context, f Filter) []Entry {
	f = normalizeFilter(f)
	if l.store == nil {
		return []Entry{}
	}
	entries, err := l.store.ListAuditEntries(ctx, f)
	if err != nil {
		obs.Logger().Warn("audit query failed", zap.Error(err))
		return []Entry{}
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// RecordDecision stores a permission decision.
func (l *Logger) RecordDecision(ctx context.Context, d auth.Decision) {
	action := d.Action
	if action == "" {
		action = "permission.check"
	}
	l.Log(ctx, Entry{
		UserID:      d.UserID,
		TenantID:    d.TenantID,
		WorkspaceID: d.WorkspaceID,
		Action:      action,
		Resource:    d.Resource,
		Permission:  string(d.Permission),
		Allowed:     d.Allowed,
		Reason:      d.Reason,
		Metadata:    map[string]any{"source": string(d.Source)},
	})
}

func normalizeFilter(f Filter) Filter {
	f.UserID = strings.TrimSpace(f.UserID)
	f.TenantID = strings.TrimSpace(f.TenantID)
	f.WorkspaceID = strings.TrimSpace(f.WorkspaceID)
	f.Action = strings.TrimSpace(f.Action)
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

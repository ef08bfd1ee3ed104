// Package activitylog records immutable activity items and rebuilds their
// causal grouping on read.
//
// Recording never fails back into the caller: persistence errors are
// logged at WARN and counted, and the item is still returned. Items carry
// a root id (the causal chain they belong to, defaulting to their own id)
// and an optional external id correlating them with an item recorded
// elsewhere.
package activitylog

import (
	"context"
	"strings"
	"time"
)

// Collection holds activity log items.
const Collection = "activityLog"

// Execution states.
const (
	StateStarted   = "started"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Item is one immutable activity record.
type Item struct {
	ID                string    `json:"id"`
	ActivityType      string    `json:"activityType"`
	ExecutionState    string    `json:"executionState"`
	Requestor         string    `json:"requestor"`
	Resource          string    `json:"resource"`
	ResourceCanonical string    `json:"resourceCanonical"`
	ActorIDs          []string  `json:"actorIds"`
	RootLogItemID     string    `json:"rootLogItemId"`
	ExternalLogItemID string    `json:"externalLogItemId,omitempty"`
	DateOfCreation    time.Time `json:"dateOfCreation"`
}

// IsRoot reports whether the item starts its own causal chain.
func (i *Item) IsRoot() bool {
	return i.RootLogItemID == "" || i.RootLogItemID == i.ID
}

type ctxKey int

const (
	rootKey ctxKey = iota
	externalKey
)

// WithRoot returns a context whose recorded items default to rootID as
// their root.
func WithRoot(ctx context.Context, rootID string) context.Context {
	return context.WithValue(ctx, rootKey, rootID)
}

// RootFrom returns the ambient root id, if any.
func RootFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(rootKey).(string)
	return id, ok && id != ""
}

// WithExternal returns a context whose recorded items default to
// externalID as their external correlation.
func WithExternal(ctx context.Context, externalID string) context.Context {
	return context.WithValue(ctx, externalKey, externalID)
}

// ExternalFrom returns the ambient external id, if any.
func ExternalFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(externalKey).(string)
	return id, ok && id != ""
}

// CanonicalResource makes otherwise-distinct URIs for the same page
// comparable. A URI whose path ends in "/" or that names only a domain
// gets "index.html" appended, ahead of any query string or fragment.
// Anything else is returned unchanged.
func CanonicalResource(resource string) string {
	if resource == "" {
		return ""
	}

	base, suffix := resource, ""
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base, suffix = base[:i], base[i:]
	}

	if scheme := strings.Index(base, "://"); scheme >= 0 {
		rest := base[scheme+3:]
		if rest == "" {
			return resource
		}
		if !strings.Contains(rest, "/") {
			return base + "/index.html" + suffix
		}
	}

	if strings.HasSuffix(base, "/") {
		return base + "index.html" + suffix
	}
	return resource
}

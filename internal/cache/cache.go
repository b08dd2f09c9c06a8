// Package cache holds short-lived copies of identity moderation state so
// the authorization guard can re-check bans and admin rights per request
// without a database read on every call.
package cache

import (
	"context"
	"time"

	"github.com/sakif/cloudtype/internal/model"
)

const DefaultTTL = 30 * time.Second

// StatusCache stores model.AccountStatus keyed by identity ID.
//
// Get reports a miss as (zero, false, nil). Moderation writes call
// Invalidate so a ban is visible on the next request, not after the TTL.
//
// Every identity has a generation that Invalidate bumps. A reader calls
// Generation before loading from the database and passes the value to
// Set, which stores nothing if an Invalidate happened in between. That
// keeps a load that read the row before a ban from caching the stale
// status after it.
type StatusCache interface {
	Get(ctx context.Context, userID string) (model.AccountStatus, bool, error)
	Generation(ctx context.Context, userID string) (uint64, error)
	Set(ctx context.Context, status model.AccountStatus, gen uint64) error
	Invalidate(ctx context.Context, userID string) error
}

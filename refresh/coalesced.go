package refresh

import (
	"context"

	"github.com/jrsteele09/go-auth-client/credentials"
	"golang.org/x/sync/singleflight"
)

// Coalesced decorates a Refresher so concurrent callers share a single
// in-flight exchange and observe the same outcome. Wrap the HTTP client in
// this whenever more than one component (the session manager, the request
// wrapper) can trigger a refresh.
type Coalesced struct {
	refresher Refresher
	group     singleflight.Group
}

// NewCoalesced wraps a Refresher with refresh coalescing.
func NewCoalesced(refresher Refresher) *Coalesced {
	return &Coalesced{refresher: refresher}
}

// Refresh performs at most one outstanding exchange; callers arriving while
// one is in flight await its result rather than issuing a duplicate.
func (c *Coalesced) Refresh(ctx context.Context) (*credentials.Credential, error) {
	result, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresher.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	cred, _ := result.(*credentials.Credential)
	return cred, nil
}

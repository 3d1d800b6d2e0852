package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// silentRenewer collapses concurrent renewal requests into one refresh.
type silentRenewer struct {
	renew func(ctx context.Context) error
	group singleflight.Group
}

func newSilentRenewer(renew func(ctx context.Context) error) *silentRenewer {
	return &silentRenewer{renew: renew}
}

// trigger starts a renewal in the background unless one is already running, in which
// case the caller shares its result.
func (r *silentRenewer) trigger(ctx context.Context) <-chan singleflight.Result {
	return r.group.DoChan("renew", func() (any, error) {
		err := r.renew(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("renewal after 401 failed")
		}
		return nil, err
	})
}

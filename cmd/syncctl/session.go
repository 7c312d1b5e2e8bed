package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jun/gophsync/core/client"
	gsync "github.com/jun/gophsync/core/sync"
	"github.com/jun/gophsync/internal/logutils"
)

// session is one command's view of the server and the local cache.
type session struct {
	client *client.Client
	cache  *gsync.BadgerCache
	engine *gsync.Engine
}

func openSession(ctx context.Context, opts *options) (*session, error) {
	c := client.NewClient(opts.serverURL)
	c.SetAuthToken(opts.token)

	cache, err := gsync.OpenBadgerCache(opts.cacheDir)
	if err != nil {
		return nil, err
	}
	e, err := gsync.NewEngine(ctx, gsync.Options{Remote: c, Cache: cache, PollInterval: opts.pollInterval})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	return &session{client: c, cache: cache, engine: e}, nil
}

func (s *session) Close() {
	if err := s.engine.Close(); err != nil {
		logutils.Log.WithError(err).Warn("close engine")
	}
	if err := s.cache.Close(); err != nil {
		logutils.Log.WithError(err).Warn("close cache")
	}
}

// hydrate refreshes memberships. An unreachable server leaves the cached
// list in place and marks the session offline.
func (s *session) hydrate(ctx context.Context) error {
	err := s.engine.Hydrate(ctx)
	if errors.Is(err, gsync.ErrTransient) {
		logutils.Log.WithError(err).Warn("server unreachable, using cached workspaces")
		s.engine.SetOnline(false)
		return nil
	}
	return err
}

// resolve finds an instance by id or slug.
func (s *session) resolve(ref string) (gsync.Instance, error) {
	for _, in := range s.engine.Registry().Instances() {
		if in.ID == ref || (in.Slug != "" && in.Slug == ref) {
			return in, nil
		}
	}
	return gsync.Instance{}, fmt.Errorf("%w: %s", gsync.ErrUnknownInstance, ref)
}

// open activates ref and waits for its first read when online.
func (s *session) open(ctx context.Context, ref string) (gsync.Instance, error) {
	if ref != gsync.LocalInstanceID {
		if err := s.hydrate(ctx); err != nil {
			return gsync.Instance{}, err
		}
	}
	in, err := s.resolve(ref)
	if err != nil {
		return in, err
	}
	if err := s.engine.SwitchInstance(in.ID); err != nil {
		return in, err
	}
	if in.Remote && s.engine.Online() {
		if err := s.engine.Refresh(ctx); err != nil && !errors.Is(err, gsync.ErrTransient) {
			return in, err
		}
	}
	return in, nil
}

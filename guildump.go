// Package guildump exports Guilded servers:  either as a lossless raw
// JSON archive, or converted to the Discord takeout format that
// Spacebar can import.
package guildump

import (
	"context"
	"fmt"
	"runtime/trace"

	"github.com/guildump/guildump/auth"
	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/internal/network"
)

// Session is an authenticated API session.  Zero value is not usable,
// must be initialised with New.
type Session struct {
	client *guilded.Client
	me     *guilded.Me

	cfg config
}

type config struct {
	limits  network.Limits
	apiBase string
}

// Option is the signature of the option-setting function.
type Option func(*Session)

// WithLimits sets the rate limits and worker counts for the session.
// Invalid limits are ignored in favour of the defaults.
func WithLimits(l network.Limits) Option {
	return func(s *Session) {
		if l.Validate() == nil {
			s.cfg.limits = l
		}
	}
}

// WithAPIBase overrides the API root URL.  Used by tests.
func WithAPIBase(base string) Option {
	return func(s *Session) {
		s.cfg.apiBase = base
	}
}

// New creates a new session with the provided credentials and verifies
// them against the API.  An invalid or expired token returns
// guilded.AuthError.
func New(ctx context.Context, prov auth.Provider, opts ...Option) (*Session, error) {
	ctx, task := trace.NewTask(ctx, "New")
	defer task.End()

	if err := prov.Validate(); err != nil {
		return nil, fmt.Errorf("auth provider validation error: %w", err)
	}
	s := &Session{
		cfg: config{limits: network.DefLimits},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.limits.Validate(); err != nil {
		return nil, fmt.Errorf("limits validation error: %w", err)
	}

	httpCl, err := prov.HTTPClient()
	if err != nil {
		return nil, err
	}
	s.client = guilded.NewWithClient(httpCl, s.cfg.apiBase)

	me, err := s.client.Me(ctx)
	if err != nil {
		return nil, err
	}
	s.me = me
	return s, nil
}

// Client returns the underlying API client.
func (s *Session) Client() *guilded.Client {
	return s.client
}

// Me returns the session user record.
func (s *Session) Me() *guilded.Me {
	return s.me
}

// CurrentUserID returns the ID of the authenticated user.
func (s *Session) CurrentUserID() string {
	return s.me.User.ID
}

// Teams returns the servers the session user belongs to.
func (s *Session) Teams() []guilded.Team {
	return s.me.Teams
}

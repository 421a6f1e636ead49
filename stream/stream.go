// Package stream implements the crawler:  it walks the paginated
// Guilded collection endpoints to completion, through the shared rate
// limiter, handing every record to a processor.  It is safe for
// concurrent use.
package stream

import (
	"context"
	"fmt"
	"runtime/trace"

	"golang.org/x/time/rate"

	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/internal/network"
	"github.com/guildump/guildump/internal/state"
	"github.com/guildump/guildump/processor"
)

// Guilder is the interface with the functions of guilded.Client that
// the crawler uses.
type Guilder interface {
	Me(ctx context.Context) (*guilded.Me, error)
	TeamInfo(ctx context.Context, teamID string) (*guilded.Team, error)
	TeamChannels(ctx context.Context, teamID string) ([]guilded.Channel, error)
	TeamMembers(ctx context.Context, teamID string) ([]guilded.Member, error)
	TeamGroups(ctx context.Context, teamID string) ([]guilded.Group, error)
	TeamRoles(ctx context.Context, teamID string) (map[string]guilded.Role, error)
	Messages(ctx context.Context, channelID string, beforeID string) ([]guilded.Message, error)
	Pinned(ctx context.Context, channelID string) ([]guilded.Message, error)
	Threads(ctx context.Context, channelID string, beforeID string) ([]guilded.Channel, error)
}

// Stream is used to fetch the server data from Guilded.
type Stream struct {
	client   Guilder
	limiter  *rate.Limiter // account-wide, shared by every API call of the run
	limits   network.Limits
	cs       *state.State
	stateFn  string // state file path; empty disables persistence
	resultFn []func(sr Result) error
}

// ResultType identifies the type of the result for the callback
// function.
type ResultType int8

const (
	RTMain    ResultType = iota // run-level result
	RTChannel                   // channel messages result
	RTThread                    // thread messages result
)

// Result is sent to the callback function for each processed page.
type Result struct {
	Type      ResultType
	ChannelID string
	ThreadID  string
	Count     int  // records in this page
	IsLast    bool // true for the last page of the channel or thread
	Err       error
}

func (r Result) String() string {
	if r.ThreadID == "" {
		return "<" + r.ChannelID + ">"
	}
	return fmt.Sprintf("<%s[%s:%s]>", r.ChannelID, r.ThreadID, map[bool]string{true: "last", false: "more"}[r.IsLast])
}

func (r *Result) Error() string {
	return fmt.Sprintf("error in channel %q: %v", r.ChannelID, r.Err)
}

func (r *Result) Unwrap() error {
	return r.Err
}

// Option functions are used to configure the stream.
type Option func(*Stream)

// OptResultFn adds a callback function that is called for each result.
func OptResultFn(fn func(sr Result) error) Option {
	return func(cs *Stream) {
		cs.resultFn = append(cs.resultFn, fn)
	}
}

// OptState sets the crawl state and the file it is checkpointed to
// after every durable page.  Without it the stream still works, but a
// restart starts over.
func OptState(st *state.State, filename string) Option {
	return func(cs *Stream) {
		cs.cs = st
		cs.stateFn = filename
	}
}

// New creates a new Stream over the given client.
func New(cl Guilder, l network.Limits, opts ...Option) *Stream {
	cs := &Stream{
		client:  cl,
		limiter: network.NewLimiter(network.APIPerMin, l.API.Burst, l.API.Boost),
		limits:  l,
	}
	for _, opt := range opts {
		opt(cs)
	}
	if cs.cs == nil {
		cs.cs = state.New("")
	}
	return cs
}

// checkpoint persists the state, if a state file is configured.
func (cs *Stream) checkpoint() error {
	if cs.stateFn == "" {
		return nil
	}
	return cs.cs.Save(cs.stateFn)
}

func (cs *Stream) emit(r Result) error {
	for _, fn := range cs.resultFn {
		if err := fn(r); err != nil {
			return fmt.Errorf("result %s, callback error: %w", r.String(), err)
		}
	}
	return nil
}

// Account fetches the session user and passes it to the processor.
func (cs *Stream) Account(ctx context.Context, proc processor.Accounter) (*guilded.Me, error) {
	ctx, task := trace.NewTask(ctx, "Account")
	defer task.End()

	var me *guilded.Me
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		me, err = cs.client.Me(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := proc.Account(ctx, me); err != nil {
		return nil, err
	}
	return me, nil
}

// TeamInfo fetches the server info and passes it to the processor.
func (cs *Stream) TeamInfo(ctx context.Context, proc processor.TeamInformer, teamID string) (*guilded.Team, error) {
	ctx, task := trace.NewTask(ctx, "TeamInfo")
	defer task.End()

	var team *guilded.Team
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		team, err = cs.client.TeamInfo(ctx, teamID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := proc.TeamInfo(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

// Members fetches the member list and passes it to the processor.
func (cs *Stream) Members(ctx context.Context, proc processor.Members, teamID string) error {
	ctx, task := trace.NewTask(ctx, "Members")
	defer task.End()

	var mm []guilded.Member
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		mm, err = cs.client.TeamMembers(ctx, teamID)
		return err
	}); err != nil {
		return err
	}
	return proc.Members(ctx, teamID, mm)
}

// Groups fetches the channel groups and passes them to the processor.
func (cs *Stream) Groups(ctx context.Context, proc processor.TeamInformer, teamID string) error {
	ctx, task := trace.NewTask(ctx, "Groups")
	defer task.End()

	var gg []guilded.Group
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		gg, err = cs.client.TeamGroups(ctx, teamID)
		return err
	}); err != nil {
		return err
	}
	return proc.Groups(ctx, teamID, gg)
}

// Roles fetches the role definitions and passes them to the processor.
func (cs *Stream) Roles(ctx context.Context, proc processor.TeamInformer, teamID string) error {
	ctx, task := trace.NewTask(ctx, "Roles")
	defer task.End()

	var rr map[string]guilded.Role
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		rr, err = cs.client.TeamRoles(ctx, teamID)
		return err
	}); err != nil {
		return err
	}
	return proc.Roles(ctx, teamID, rr)
}

// Channels fetches the channel list, passes it to the processor and
// returns it for the conversation crawl.
func (cs *Stream) Channels(ctx context.Context, proc processor.Channeler, teamID string) ([]guilded.Channel, error) {
	ctx, task := trace.NewTask(ctx, "Channels")
	defer task.End()

	var cc []guilded.Channel
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		cc, err = cs.client.TeamChannels(ctx, teamID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := proc.Channels(ctx, teamID, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/trace"

	"golang.org/x/sync/errgroup"

	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/internal/network"
	"github.com/guildump/guildump/internal/state"
	"github.com/guildump/guildump/processor"
)

// Conversations crawls the message history of every channel in cc,
// including each channel's threads, handing the pages to proc.  It
// fans the channels out over Limits.Workers goroutines;  the API rate
// limiter is shared, so concurrency shortens the tail, not the
// request cadence.
//
// A channel the account cannot read (HTTP 403) or that has vanished
// (404) is recorded in the state with its reason and skipped;  an
// authentication failure (401) aborts the run.
func (cs *Stream) Conversations(ctx context.Context, proc processor.Conversations, cc []guilded.Channel) error {
	ctx, task := trace.NewTask(ctx, "Conversations")
	defer task.End()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(cs.limits.Workers)
	for _, ch := range cc {
		eg.Go(func() error {
			return cs.channel(ctx, proc, &ch)
		})
	}
	return eg.Wait()
}

// channel processes a single channel:  metadata, pinned messages,
// message history, then its threads.
func (cs *Stream) channel(ctx context.Context, proc processor.Conversations, ch *guilded.Channel) error {
	ctx, task := trace.NewTask(ctx, "channel")
	defer task.End()
	trace.Logf(ctx, "channel", "channelID: %q", ch.ID)

	lg := slog.With("channel_id", ch.ID, "name", ch.Name)

	if err := proc.ChannelInfo(ctx, ch); err != nil {
		return err
	}
	if err := cs.pinned(ctx, proc, ch.ID); err != nil {
		return err
	}
	if err := cs.channelMessages(ctx, proc, ch); err != nil {
		if reason, skip := skipReason(err); skip {
			lg.WarnContext(ctx, "channel skipped", "reason", reason)
			cs.cs.AddSkip(ch.ID, "", reason)
			return cs.checkpoint()
		}
		return fmt.Errorf("channel %q: %w", ch.ID, err)
	}
	return cs.channelThreads(ctx, proc, ch)
}

// pinned fetches the channel's pinned messages.  Not every channel
// type supports pins, so 403 and 404 are quietly tolerated.
func (cs *Stream) pinned(ctx context.Context, proc processor.ChannelInformer, channelID string) error {
	var mm []guilded.Message
	if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
		var err error
		mm, err = cs.client.Pinned(ctx, channelID)
		return err
	}); err != nil {
		if guilded.IsForbidden(err) || guilded.IsNotFound(err) {
			slog.DebugContext(ctx, "no pinned messages available", "channel_id", channelID, "error", err)
			return nil
		}
		return err
	}
	return proc.Pinned(ctx, channelID, mm)
}

// channelMessages pages through the channel's message history, newest
// to oldest.  Every page is made durable (attachments registered,
// messages handed to the processor, cursor checkpointed) before the
// next one is requested.  On resume the last durable page is fetched
// again and the already-processed records are dropped, so interrupted
// runs produce neither gaps nor duplicates.
func (cs *Stream) channelMessages(ctx context.Context, proc processor.Conversations, ch *guilded.Channel) error {
	cur := cs.cs.ChannelCursor(ch.ID)
	if cur.Completed {
		slog.DebugContext(ctx, "channel already complete", "channel_id", ch.ID)
		return cs.emit(Result{Type: RTChannel, ChannelID: ch.ID, IsLast: true})
	}
	err := cs.pageLoop(ctx, cur, func(ctx context.Context, beforeID string) ([]guilded.Message, error) {
		return cs.client.Messages(ctx, ch.ID, beforeID)
	}, func(ctx context.Context, mm []guilded.Message, pageStart string, isLast bool) error {
		if err := procFiles(ctx, proc, ch.ID, mm); err != nil {
			return err
		}
		if err := proc.Messages(ctx, ch.ID, isLast, mm); err != nil {
			return err
		}
		if len(mm) > 0 {
			cs.cs.SetChannelCursor(ch.ID, pageStart, mm[len(mm)-1].ID)
		}
		if err := cs.checkpoint(); err != nil {
			return err
		}
		return cs.emit(Result{Type: RTChannel, ChannelID: ch.ID, Count: len(mm), IsLast: isLast})
	})
	if err != nil {
		return err
	}
	cs.cs.CompleteChannel(ch.ID)
	return cs.checkpoint()
}

// channelThreads lists the channel's threads and crawls each one.
// Threads run within the channel's worker, so the per-run concurrency
// stays bounded by Limits.Workers.
func (cs *Stream) channelThreads(ctx context.Context, proc processor.Conversations, ch *guilded.Channel) error {
	ctx, task := trace.NewTask(ctx, "channelThreads")
	defer task.End()

	var beforeID string
	for {
		var tt []guilded.Channel
		if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
			var err error
			tt, err = cs.client.Threads(ctx, ch.ID, beforeID)
			return err
		}); err != nil {
			if guilded.IsForbidden(err) || guilded.IsNotFound(err) {
				// channel type has no thread listing
				return nil
			}
			return fmt.Errorf("channel %q threads: %w", ch.ID, err)
		}
		for i := range tt {
			th := &tt[i]
			if th.ParentChannelID == "" {
				th.ParentChannelID = ch.ID
			}
			if err := cs.thread(ctx, proc, th); err != nil {
				return err
			}
		}
		if len(tt) < guilded.DefPageSize {
			return nil
		}
		beforeID = tt[len(tt)-1].ID
	}
}

// thread crawls a single thread's message history with its own cursor.
func (cs *Stream) thread(ctx context.Context, proc processor.Conversations, th *guilded.Channel) error {
	ctx, task := trace.NewTask(ctx, "thread")
	defer task.End()
	trace.Logf(ctx, "thread", "threadID: %q", th.ID)

	if err := proc.ChannelInfo(ctx, th); err != nil {
		return err
	}
	cur := cs.cs.ThreadCursor(th.ParentChannelID, th.ID)
	if cur.Completed {
		return cs.emit(Result{Type: RTThread, ChannelID: th.ParentChannelID, ThreadID: th.ID, IsLast: true})
	}
	err := cs.pageLoop(ctx, cur, func(ctx context.Context, beforeID string) ([]guilded.Message, error) {
		return cs.client.Messages(ctx, th.ID, beforeID)
	}, func(ctx context.Context, mm []guilded.Message, pageStart string, isLast bool) error {
		if err := procFiles(ctx, proc, th.ID, mm); err != nil {
			return err
		}
		if err := proc.ThreadMessages(ctx, th, isLast, mm); err != nil {
			return err
		}
		if len(mm) > 0 {
			cs.cs.SetThreadCursor(th.ParentChannelID, th.ID, pageStart, mm[len(mm)-1].ID)
		}
		if err := cs.checkpoint(); err != nil {
			return err
		}
		return cs.emit(Result{Type: RTThread, ChannelID: th.ParentChannelID, ThreadID: th.ID, Count: len(mm), IsLast: isLast})
	})
	if err != nil {
		if reason, skip := skipReason(err); skip {
			slog.WarnContext(ctx, "thread skipped", "thread_id", th.ID, "reason", reason)
			cs.cs.AddSkip(th.ParentChannelID, th.ID, reason)
			return cs.checkpoint()
		}
		return fmt.Errorf("thread %q: %w", th.ID, err)
	}
	cs.cs.CompleteThread(th.ParentChannelID, th.ID)
	return cs.checkpoint()
}

// pageLoop is the pagination engine shared by channels and threads.
// fetch requests one page before the given message ID;  durable is
// called once per page that contains new records — plus once with an
// empty final page when the history turns out to be empty, so the
// writers still produce an (empty) history record — and must not
// return until the page's side effects have succeeded.  The cursor
// advances only through durable, never ahead of it.
func (cs *Stream) pageLoop(
	ctx context.Context,
	cur state.Cursor,
	fetch func(ctx context.Context, beforeID string) ([]guilded.Message, error),
	durable func(ctx context.Context, mm []guilded.Message, pageStart string, isLast bool) error,
) error {
	beforeID := cur.PageStart
	seenID := cur.BeforeID // records at or after it are already durable
	delivered := seenID != ""
	for {
		var mm []guilded.Message
		if err := network.WithRetry(ctx, cs.limiter, cs.limits.API.Retries, func(ctx context.Context) error {
			var err error
			mm, err = fetch(ctx, beforeID)
			return err
		}); err != nil {
			return err
		}
		isLast := len(mm) < cs.limits.Request.Messages
		pageStart := beforeID
		if seenID != "" {
			mm = dropSeen(mm, seenID)
			if len(mm) == 0 && !isLast {
				// the whole overlap page was durable already; resume
				// paging from where the previous run stopped.
				beforeID, seenID = seenID, ""
				continue
			}
			seenID = ""
		}
		if len(mm) > 0 {
			if err := durable(ctx, mm, pageStart, isLast); err != nil {
				return err
			}
			delivered = true
			beforeID = mm[len(mm)-1].ID
		}
		if isLast {
			if !delivered {
				return durable(ctx, nil, pageStart, true)
			}
			return nil
		}
	}
}

// dropSeen removes the leading messages that were already processed by
// a previous run.  Pages are ordered newest first, and a page refetched
// with the same beforeId starts with the same records, so everything up
// to and including seenID is durable.
func dropSeen(mm []guilded.Message, seenID string) []guilded.Message {
	for i := range mm {
		if mm[i].ID == seenID {
			return mm[i+1:]
		}
	}
	return mm
}

// procFiles registers the attachments referenced by the messages with
// the processor's Filer.
func procFiles(ctx context.Context, proc processor.Filer, channelID string, mm []guilded.Message) error {
	for i := range mm {
		aa := mm[i].Content.Attachments()
		if len(aa) == 0 {
			continue
		}
		if err := proc.Files(ctx, channelID, mm[i], aa); err != nil {
			return err
		}
	}
	return nil
}

// skipReason classifies an error as skippable.  Permission and
// existence failures are facts about the channel, not the run:  they
// are recorded and the crawl moves on.
func skipReason(err error) (string, bool) {
	switch {
	case guilded.IsForbidden(err):
		return "permission denied (403)", true
	case guilded.IsNotFound(err):
		return "not found (404)", true
	}
	return "", false
}

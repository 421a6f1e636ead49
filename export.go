package guildump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"

	"github.com/rusq/fsadapter"

	"github.com/guildump/guildump/downloader"
	"github.com/guildump/guildump/export"
	"github.com/guildump/guildump/internal/convert"
	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/internal/network"
	"github.com/guildump/guildump/internal/state"
	"github.com/guildump/guildump/processor"
	"github.com/guildump/guildump/stream"
)

// Format is the archive layout.
type Format int8

const (
	FRaw     Format = iota // lossless raw JSON archive
	FTakeout               // Discord takeout conversion
)

var ErrUnknownFormat = errors.New("unknown format")

// String implements fmt.Stringer and flag.Value.
func (f Format) String() string {
	switch f {
	case FRaw:
		return "raw"
	case FTakeout:
		return "takeout"
	}
	return fmt.Sprintf("Format(%d)", int8(f))
}

// Set implements flag.Value.
func (f *Format) Set(v string) error {
	switch strings.ToLower(v) {
	case "raw":
		*f = FRaw
	case "takeout", "discord":
		*f = FTakeout
	default:
		return fmt.Errorf("%w: %q (want raw or takeout)", ErrUnknownFormat, v)
	}
	return nil
}

// IndexFilename is the attachment dedup database inside the output
// directory.
const IndexFilename = "attachments.db"

// ExportParams are the parameters of one export run.
type ExportParams struct {
	// TeamID is the server to export.  The session user must be a
	// member.
	TeamID string
	// FS is the output filesystem (directory or ZIP).
	FS fsadapter.FS
	// BaseDir is the local directory backing FS.  Empty (ZIP output)
	// disables attachment downloads, the dedup index and the resume
	// state.
	BaseDir string
	// Format selects the archive layout.
	Format Format
	// DownloadFiles enables attachment downloads.
	DownloadFiles bool
	// ResultFn, if set, is called for every processed page.
	ResultFn func(sr stream.Result) error
}

// ExportResult is the outcome of one export run.
type ExportResult struct {
	TeamID  string
	Files   downloader.Stats
	Skipped []state.Skip
	Notices []convert.Notice
}

func (r *ExportResult) String() string {
	return fmt.Sprintf("server %s: %s, %d channels skipped, %d conversion notices",
		r.TeamID, r.Files.String(), len(r.Skipped), len(r.Notices))
}

// Export crawls the server and writes the archive.  An interrupted run
// leaves a state file next to the output;  running again with the same
// parameters picks up from the last checkpoint.
func (s *Session) Export(ctx context.Context, p ExportParams) (*ExportResult, error) {
	ctx, task := trace.NewTask(ctx, "Export")
	defer task.End()

	if p.FS == nil {
		return nil, errors.New("no output filesystem")
	}
	if _, err := s.team(p.TeamID); err != nil {
		return nil, err
	}
	lg := slog.With("team_id", p.TeamID, "format", p.Format.String())

	var stateFn string
	st := state.New(p.TeamID)
	if p.BaseDir != "" {
		stateFn = filepath.Join(p.BaseDir, state.DefFilename)
		if prev, err := state.Load(stateFn); err == nil && prev.TeamID == p.TeamID {
			st = prev
			lg.InfoContext(ctx, "resuming from checkpoint", "state_file", stateFn)
		} else if err != nil && !os.IsNotExist(err) {
			lg.WarnContext(ctx, "state file unreadable, starting over", "error", err)
		}
	}

	var dl *downloader.Client
	var q export.FileQueuer
	if p.DownloadFiles && p.BaseDir != "" {
		idx, err := downloader.OpenIndex(filepath.Join(p.BaseDir, IndexFilename))
		if err != nil {
			return nil, fmt.Errorf("opening attachment index: %w", err)
		}
		defer idx.Close()
		dl = downloader.New(s.client,
			downloader.WithLimiter(network.NewLimiter(network.CDNPerMin, s.cfg.limits.CDN.Burst, s.cfg.limits.CDN.Boost)),
			downloader.WithRetries(s.cfg.limits.DownloadRetries),
			downloader.WithWorkers(s.cfg.limits.DownloadWorkers),
			downloader.WithIndex(idx),
		)
		dl.Start(ctx)
		defer dl.Stop()
		q = dl
	}

	w := export.NewWriter(p.FS, p.BaseDir)
	r := new(convert.Reporter)
	var exp processor.Exporter
	switch p.Format {
	case FRaw:
		exp = export.NewRaw(w, p.BaseDir, q)
	case FTakeout:
		exp = export.NewTakeout(w, p.BaseDir, q, r)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, p.Format)
	}

	opts := []stream.Option{stream.OptState(st, stateFn)}
	if p.ResultFn != nil {
		opts = append(opts, stream.OptResultFn(p.ResultFn))
	}
	str := stream.New(s.client, s.cfg.limits, opts...)

	if err := s.crawl(ctx, str, exp, p.TeamID); err != nil {
		return nil, err
	}

	if dl != nil {
		dl.Stop() // flush the queue before Close writes the summary files
		if err := dl.Err(); err != nil {
			// failed downloads are still pending in the index, a new
			// run picks them up
			return nil, fmt.Errorf("attachment downloads failed, run again to retry: %w", err)
		}
	}
	if err := exp.Close(); err != nil {
		return nil, err
	}

	res := &ExportResult{
		TeamID:  p.TeamID,
		Skipped: st.Skipped,
		Notices: r.Notices(),
	}
	if dl != nil {
		res.Files = dl.Statistics()
	}
	lg.InfoContext(ctx, "export complete", "files", res.Files.String(), "skipped", len(res.Skipped), "notices", len(res.Notices))
	return res, nil
}

// crawl runs the fetch sequence:  metadata first, then the channel
// conversations.
func (s *Session) crawl(ctx context.Context, str *stream.Stream, exp processor.Exporter, teamID string) error {
	if _, err := str.Account(ctx, exp); err != nil {
		return err
	}
	if _, err := str.TeamInfo(ctx, exp, teamID); err != nil {
		return err
	}
	if err := str.Roles(ctx, exp, teamID); err != nil {
		return err
	}
	if err := str.Groups(ctx, exp, teamID); err != nil {
		return err
	}
	if err := str.Members(ctx, exp, teamID); err != nil {
		return err
	}
	cc, err := str.Channels(ctx, exp, teamID)
	if err != nil {
		return err
	}
	// reply threads are crawled from their parents
	top := cc[:0:0]
	for _, ch := range cc {
		if !ch.IsThread() {
			top = append(top, ch)
		}
	}
	return str.Conversations(ctx, exp, top)
}

// team finds the team in the session user's team list.
func (s *Session) team(teamID string) (*guilded.Team, error) {
	for i := range s.me.Teams {
		if s.me.Teams[i].ID == teamID {
			return &s.me.Teams[i], nil
		}
	}
	return nil, fmt.Errorf("server %q not found: not a member or invalid ID", teamID)
}

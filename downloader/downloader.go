// Package downloader implements the attachment fetcher:  a bounded
// worker pool that downloads message attachments through the CDN rate
// limiter, stores them content-addressed and never leaves a partial
// file under a final name.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime/trace"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/internal/network"
)

const (
	defRetries    = 3
	defNumWorkers = 4
	defFileBufSz  = 100
)

var (
	// ErrNotStarted is returned on Download before Start.
	ErrNotStarted = errors.New("downloader not started")
)

// GetFiler is the file-fetching capability of the API client.
type GetFiler interface {
	GetFile(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Client is the download pool.  Files are written to
// <dir>/attachments/<sha256><ext>;  the hash is computed as the bytes
// stream in, and the file appears under its final name only after the
// download has fully succeeded.
type Client struct {
	gf      GetFiler
	limiter *rate.Limiter
	idx     *Index

	retries int
	workers int

	mu        sync.Mutex // guards start/stop
	requests  chan Request
	chanBufSz int
	wg        *sync.WaitGroup
	started   bool

	errMu    sync.Mutex
	firstErr error

	statMu sync.Mutex
	stats  Stats
}

// Request is one download:  the source URL and the directory the file
// belongs to.
type Request struct {
	Dir string
	URL string
}

// Stats is the tally of one downloader run.  Skipped counts
// permanently unavailable files, Failed counts downloads whose
// transient retries were exhausted;  failed downloads stay pending in
// the index and a later run retries them.
type Stats struct {
	Downloaded int
	Bytes      int64
	Deduped    int
	Skipped    int
	Failed     int
}

// Option is the configuration function for New.
type Option func(*Client)

// WithLimiter sets the shared CDN rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithRetries sets the number of attempts per download.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithIndex attaches a persistent dedup index.  Without it dedup is
// in-run only (by URL).
func WithIndex(ix *Index) Option {
	return func(c *Client) {
		c.idx = ix
	}
}

// New initialises the file downloader.
func New(gf GetFiler, opts ...Option) *Client {
	if gf == nil {
		// better safe than sorry
		panic("programming error: client is nil")
	}
	c := &Client{
		gf:        gf,
		limiter:   network.NewLimiter(network.CDNPerMin, network.DefLimits.CDN.Burst, network.DefLimits.CDN.Boost),
		retries:   defRetries,
		workers:   defNumWorkers,
		chanBufSz: defFileBufSz,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts the download workers and re-queues the downloads a
// previous run recorded in the index but never finished.  Starting a
// started downloader does nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	req := make(chan Request, c.chanBufSz)
	c.requests = req
	c.wg = c.startWorkers(ctx, req)
	c.started = true
	c.mu.Unlock()
	c.requeuePending(ctx)
}

// requeuePending replays the unfinished wants of an interrupted run.
// The workers are already consuming, so the sends do not block beyond
// the queue depth.
func (c *Client) requeuePending(ctx context.Context) {
	if c.idx == nil {
		return
	}
	pp, err := c.idx.Pending()
	if err != nil {
		slog.ErrorContext(ctx, "cannot read pending downloads", "error", err)
		c.fail(err)
		return
	}
	for _, req := range pp {
		select {
		case <-ctx.Done():
			return
		case c.requests <- req:
		}
	}
	if len(pp) > 0 {
		slog.InfoContext(ctx, "requeued unfinished downloads", "count", len(pp))
	}
}

func (c *Client) startWorkers(ctx context.Context, req <-chan Request) *sync.WaitGroup {
	var wg sync.WaitGroup
	flt := c.fltSeen(req)
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			c.worker(ctx, flt)
			slog.Debug("download worker terminated", "worker", workerNum)
		}(i)
	}
	return &wg
}

// fltSeen drops requests for URLs that have already been queued during
// this run, so two workers never race for the same URL.
func (c *Client) fltSeen(reqC <-chan Request) <-chan Request {
	filtered := make(chan Request)
	go func() {
		defer close(filtered)
		seen := make(map[string]bool)
		for r := range reqC {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			filtered <- r
		}
	}()
	return filtered
}

func (c *Client) worker(ctx context.Context, reqC <-chan Request) {
	for {
		select {
		case <-ctx.Done():
			trace.Log(ctx, "info", "worker context cancelled")
			return
		case req, more := <-reqC:
			if !more {
				return
			}
			lg := slog.With("url", req.URL)
			n, err := c.download(ctx, req.Dir, req.URL)
			if err != nil {
				if guilded.IsForbidden(err) || guilded.IsNotFound(err) {
					lg.WarnContext(ctx, "attachment gone, skipping", "error", err)
					if c.idx != nil {
						if ierr := c.idx.MarkGone(req.URL); ierr != nil {
							c.fail(ierr)
						}
					}
					c.tally(func(s *Stats) { s.Skipped++ })
					continue
				}
				// transient retries exhausted: the want stays pending
				// in the index, the run ends in error, and the next
				// run retries the download.
				lg.ErrorContext(ctx, "download failed", "error", err)
				c.fail(err)
				c.tally(func(s *Stats) { s.Failed++ })
				continue
			}
			if n > 0 {
				lg.DebugContext(ctx, "saved", "size", humanize.Bytes(uint64(n)))
			}
		}
	}
}

// download fetches one URL into dir.  The bytes stream through the
// hasher into a temporary file in dir, and the rename to the
// hash-addressed final name happens only after the fetch succeeded.
// Returns 0 with no error when the index already has the URL.
func (c *Client) download(ctx context.Context, dir string, srcurl string) (int64, error) {
	if c.idx != nil {
		if p, ok, err := c.idx.Stored(srcurl); err != nil {
			return 0, err
		} else if ok {
			if _, err := os.Stat(p); err == nil {
				c.tally(func(s *Stats) { s.Deduped++ })
				return 0, nil
			}
			// indexed but missing on disk, re-download
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	tf, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, err
	}
	tmpname := tf.Name()
	defer func() {
		tf.Close()
		os.Remove(tmpname)
	}()

	h := sha256.New()
	var n int64
	if err := network.WithRetry(ctx, c.limiter, c.retries, func(ctx context.Context) error {
		region := trace.StartRegion(ctx, "GetFile")
		defer region.End()

		// a retried attempt starts the file and the hash over
		if _, err := tf.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tf.Truncate(0); err != nil {
			return err
		}
		h.Reset()

		var err error
		n, err = c.gf.GetFile(ctx, srcurl, io.MultiWriter(tf, h))
		if err != nil {
			return fmt.Errorf("download failed [src=%s]: %w", srcurl, err)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	if err := tf.Close(); err != nil {
		return 0, err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := filepath.Join(dir, sum+urlExt(srcurl))
	if err := os.Rename(tmpname, final); err != nil {
		return 0, err
	}
	if c.idx != nil {
		if err := c.idx.Add(srcurl, sum, final, n); err != nil {
			return 0, err
		}
	}
	c.tally(func(s *Stats) {
		s.Downloaded++
		s.Bytes += n
	})
	return n, nil
}

// Stop closes the queue and waits for the in-flight downloads.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	close(c.requests)
	c.wg.Wait()
	c.requests = nil
	c.wg = nil
	c.started = false
}

// Download queues a file for download.  The downloader must be
// started.  With an index attached the request is durable:  it is
// recorded before it is queued, so an interrupt between here and the
// actual download is repaired by the next run's Start.
func (c *Client) Download(dir string, url string) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if c.idx != nil {
		if err := c.idx.AddWant(url, dir); err != nil {
			return err
		}
	}
	c.requests <- Request{Dir: dir, URL: url}
	return nil
}

// Statistics returns a copy of the run tally.  Meaningful after Stop.
func (c *Client) Statistics() Stats {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.stats
}

func (c *Client) tally(fn func(*Stats)) {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	fn(&c.stats)
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.firstErr == nil {
		c.firstErr = err
	}
	c.errMu.Unlock()
}

// Err returns the first non-recoverable download error of the run, if
// any.  Meaningful after Stop;  a non-nil value means the archive is
// missing attachments and the run should be repeated.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.firstErr
}

// String renders the tally for the end-of-run summary.
func (s Stats) String() string {
	return fmt.Sprintf("%d files (%s), %d deduplicated, %d skipped, %d failed",
		s.Downloaded, humanize.Bytes(uint64(s.Bytes)), s.Deduped, s.Skipped, s.Failed)
}

// urlExt returns the file extension of the URL path, if any.
func urlExt(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return path.Ext(rawurl)
	}
	return path.Ext(u.Path)
}

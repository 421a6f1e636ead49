// Command guildump exports a Guilded server:  either as a lossless raw
// JSON archive or converted to the Discord takeout format that
// Spacebar can import.
//
// The session token is the value of the hmac_signed_session cookie of
// a logged-in guilded.gg browser session.  It is taken from the -token
// flag, the GUILDED_TOKEN environment variable, or a .env file in the
// current directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/trace"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/guildump/guildump"
	"github.com/guildump/guildump/auth"
	"github.com/guildump/guildump/internal/network"
	"github.com/guildump/guildump/stream"
	"github.com/rusq/fsadapter"
)

const envFile = ".env"

var build = "dev" // overridden by the linker

var (
	token    = flag.String("token", "", "Guilded session token (hmac_signed_session cookie value)")
	teamID   = flag.String("server", "", "ID of the server to export")
	output   = flag.String("o", "guildump", "output directory or ZIP file")
	listOnly = flag.Bool("list-servers", false, "list the servers of the account and exit")
	noFiles  = flag.Bool("no-files", false, "do not download attachments")
	limitsFn = flag.String("limits", "", "TOML `file` with rate limit overrides")
	traceFn  = flag.String("trace", "", "trace `file` for go tool trace")
	verbose  = flag.Bool("v", false, "verbose (debug) logging")
	version  = flag.Bool("version", false, "print version and exit")
)

var format = guildump.FTakeout

func main() {
	flag.Var(&format, "format", "archive format: raw or takeout")
	flag.Parse()

	if *version {
		fmt.Println("guildump", build)
		return
	}

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted, state saved, run again to resume")
			os.Exit(1)
		}
		slog.Error("terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if *traceFn != "" {
		f, err := os.Create(*traceFn)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := trace.Start(f); err != nil {
			return err
		}
		defer trace.Stop()
	}

	limits := network.DefLimits
	if *limitsFn != "" {
		var override network.Limits
		if _, err := toml.DecodeFile(*limitsFn, &override); err != nil {
			return fmt.Errorf("limits file: %w", err)
		}
		if err := limits.Apply(override); err != nil {
			return fmt.Errorf("limits file: %w", err)
		}
	}

	prov, err := provider()
	if err != nil {
		return err
	}
	sess, err := guildump.New(ctx, prov, guildump.WithLimits(limits))
	if err != nil {
		return err
	}

	if *listOnly {
		return listServers(sess)
	}
	if *teamID == "" {
		_ = listServers(sess)
		return errors.New("no server ID given, use -server with one of the IDs above")
	}

	fsa, err := fsadapter.New(*output)
	if err != nil {
		return err
	}
	defer fsa.Close()

	baseDir := ""
	if !isZip(*output) {
		baseDir = *output
	} else if !*noFiles {
		slog.Warn("ZIP output: attachment download and resume are disabled")
	}

	pb := progress()
	defer pb.Close()

	res, err := sess.Export(ctx, guildump.ExportParams{
		TeamID:        *teamID,
		FS:            fsa,
		BaseDir:       baseDir,
		Format:        format,
		DownloadFiles: !*noFiles && baseDir != "",
		ResultFn: func(sr stream.Result) error {
			_ = pb.Add(sr.Count)
			return nil
		},
	})
	if err != nil {
		return err
	}
	_ = pb.Finish()
	fmt.Fprintln(os.Stderr)

	fmt.Printf("export of server %s complete\n  output:      %s\n  attachments: %s\n", res.TeamID, *output, res.Files.String())
	for _, sk := range res.Skipped {
		slog.Warn("channel skipped", "channel_id", sk.ChannelID, "thread_id", sk.ThreadID, "reason", sk.Reason)
	}
	if n := len(res.Notices); n > 0 {
		slog.Info("lossy conversions, see the raw archive for the originals", "count", n)
		for _, nt := range res.Notices {
			slog.Debug("conversion notice", "kind", nt.Kind, "value", nt.Value)
		}
	}
	return nil
}

// provider builds the auth provider from the flag, the environment or
// the .env file, in that order.
func provider() (auth.Provider, error) {
	if *token != "" {
		return auth.NewValueAuth(*token)
	}
	_ = godotenv.Load(envFile) // missing .env is fine
	prov, err := auth.NewEnvAuth()
	if err != nil {
		return nil, fmt.Errorf("no session token: pass -token or set %s: %w", auth.GuildedTokenEnv, err)
	}
	return prov, nil
}

func listServers(sess *guildump.Session) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tName")
	for _, tm := range sess.Teams() {
		fmt.Fprintf(tw, "%s\t%s\n", tm.ID, tm.Name)
	}
	return tw.Flush()
}

func progress() *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("exporting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("msg"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetVisibility(isTerminal(os.Stderr)),
	)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func isZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

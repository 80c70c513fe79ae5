/*
httpfuse is a read-only FUSE filesystem that presents remote HTTP resources
as regular files within one flat directory. The size of every resource is
established once when mounting, while the contents are fetched on demand with
HTTP range requests, as the kernel requests them. It includes a HTTP dashboard
for basic filesystem metrics and controlling operations and runtime behavior.

The following signals are observed and handled by the filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertwitch/httpfuse/internal/filesystem"
	"github.com/desertwitch/httpfuse/internal/logging"
	"github.com/desertwitch/httpfuse/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	defaultBlockSize      = "1MiB"
	defaultRingBufferSize = 500
)

// Version is the program version (filled in from the Makefile).
var Version string

type programOpts struct {
	mountDir       string
	locatorURL     string
	locatorFile    string
	allowOther     bool
	dryRun         bool
	logFile        string
	ringBufferSize int
	webserverAddr  string

	fsOpts     *filesystem.Options
	clientOpts *remote.ClientOptions

	out io.Writer
}

func rootCmd() *cobra.Command {
	var argBlockSize string
	var argStrictReads bool
	var argVerbose bool

	opts := programOpts{
		fsOpts:     filesystem.DefaultOptions(),
		clientOpts: remote.DefaultClientOptions(),
	}

	cmd := &cobra.Command{
		Use:     helpTextUse,
		Short:   helpTextShort,
		Long:    helpTextLong,
		Version: Version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blockSize, err := humanize.ParseBytes(argBlockSize)
			if err != nil {
				return fmt.Errorf("failed to parse block size: %w", err)
			}

			opts.mountDir = args[0]
			opts.clientOpts.BlockSize = int64(blockSize) //nolint:gosec
			opts.fsOpts.StrictReads.Store(argStrictReads)
			opts.fsOpts.Verbose.Store(argVerbose)
			opts.out = cmd.OutOrStdout()

			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.locatorURL, "url", "u", "", "URL of a single remote resource to serve")
	cmd.Flags().StringVarP(&opts.locatorFile, "file", "f", "", "Path to a file listing one URL per line (may be gzip or zstd compressed)")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	cmd.MarkFlagsOneRequired("url", "file")

	cmd.Flags().StringVarP(&opts.clientOpts.Proxy, "proxy", "p", "", "Proxy URL (http, https, socks5 or socks5h; environment proxy when empty)")
	cmd.Flags().IntVar(&opts.clientOpts.MaxIdleConnsPerHost, "max-idle-conns", opts.clientOpts.MaxIdleConnsPerHost, "Kept-alive connections per host")
	cmd.Flags().DurationVar(&opts.clientOpts.Timeout, "timeout", opts.clientOpts.Timeout, "Time limit of a single HTTP request")
	cmd.Flags().StringVar(&opts.clientOpts.UserAgent, "user-agent", opts.clientOpts.UserAgent, "User-Agent header sent with every request")
	cmd.Flags().StringVar(&argBlockSize, "block-size", defaultBlockSize, "Size of the blocks fetched and cached ahead (0 fetches only the requested bytes)")
	cmd.Flags().IntVar(&opts.clientOpts.CacheSize, "cache-size", opts.clientOpts.CacheSize, "Maximum amount of blocks cached in memory")
	cmd.Flags().DurationVar(&opts.clientOpts.CacheTTL, "cache-ttl", opts.clientOpts.CacheTTL, "Time-to-live of a cached block")

	cmd.Flags().DurationVar(&opts.fsOpts.AttrTTL, "attr-ttl", opts.fsOpts.AttrTTL, "How long the kernel may cache names and attributes")
	cmd.Flags().BoolVar(&argStrictReads, "strict-reads", false, "Report reads the remote cannot fully serve as I/O errors (can be toggled at runtime)")
	cmd.Flags().BoolVar(&opts.allowOther, "allow-other", false, "Allow other users to access the filesystem")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Open all resources and list the files, but do not mount")

	cmd.Flags().BoolVar(&argVerbose, "verbose", false, "Log every read request into the ring-buffer (can be toggled at runtime)")
	cmd.Flags().StringVarP(&opts.webserverAddr, "webserver", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")
	cmd.Flags().StringVar(&opts.logFile, "logfile", "", "Path of a (rotated) log file to write events to instead of stderr")
	cmd.Flags().IntVar(&opts.ringBufferSize, "ring-buffer-size", defaultRingBufferSize, "Amount of event lines kept for the dashboard")

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts programOpts) error {
	logOut, err := logWriter(opts.logFile)
	if err != nil {
		return err
	}
	defer logOut.Close()

	rbuf := logging.NewRingBuffer(opts.ringBufferSize, logOut)

	locs, err := loadLocators(opts)
	if err != nil {
		return err
	}

	client, err := remote.NewClient(opts.clientOpts)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	defer client.Close()

	openCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	fsys, err := filesystem.NewFS(openCtx, openFunc(client), locs, opts.fsOpts, rbuf)
	stop()
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	defer fsys.Close()

	rbuf.Printf("Opened %d remote resource(s).\n", fsys.Len())

	if opts.dryRun {
		return dryRun(ctx, fsys, opts.out)
	}

	return mount(opts, fsys, client, rbuf)
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/httpfuse/internal/filesystem"
	"github.com/desertwitch/httpfuse/internal/locators"
	"github.com/desertwitch/httpfuse/internal/logging"
	"github.com/desertwitch/httpfuse/internal/remote"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// helperFDEnv names the descriptor the mount helper waits on for readiness.
const helperFDEnv = "HTTPFUSE_HELPER_FD"

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// logWriter returns the writer for the filesystem events: stderr, or a
// rotated log file if a path was given.
func logWriter(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{os.Stderr}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:mnd
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	_ = f.Close()

	return logging.NewFileWriter(path), nil
}

// loadLocators returns the locators from either the list file or the URL.
func loadLocators(opts programOpts) ([]string, error) {
	if opts.locatorFile != "" {
		locs, err := locators.FromFile(opts.locatorFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read locators: %w", err)
		}

		return locs, nil
	}

	locs, err := locators.FromValue(opts.locatorURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read locators: %w", err)
	}

	return locs, nil
}

// openFunc adapts a [remote.Client] into a [filesystem.OpenFunc].
func openFunc(client *remote.Client) filesystem.OpenFunc {
	return func(ctx context.Context, u *url.URL) (filesystem.RemoteReader, error) {
		r, err := client.Open(ctx, u)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		return r, nil
	}
}

// dryRun lists all files of the filesystem, as they would be mounted.
func dryRun(ctx context.Context, fsys *filesystem.FS, out io.Writer) error {
	err := fsys.Walk(ctx, func(path string, _ *fuse.Dirent, _ fs.Node, attr fuse.Attr) error {
		_, err := fmt.Fprintf(out, "%6d  %s  %10s  %s\n", attr.Inode, attr.Mode, humanize.IBytes(attr.Size), path)

		return err //nolint:wrapcheck
	})
	if err != nil {
		return fmt.Errorf("failed to walk filesystem: %w", err)
	}

	for _, fi := range fsys.Files() {
		fmt.Fprintf(out, "%s <- %s\n", fi.Name, fi.Locator)
	}

	return nil
}

// notifyHelper signals readiness to a waiting mount helper, if there is one.
func notifyHelper(rbuf *logging.RingBuffer) {
	v := os.Getenv(helperFDEnv)
	if v == "" {
		return
	}

	fd, err := strconv.Atoi(v)
	if err != nil {
		rbuf.Printf("Error: invalid %s %q: %v\n", helperFDEnv, v, err)

		return
	}

	if err := signalReady(fd); err != nil {
		rbuf.Printf("Error: failed to notify mount helper: %v\n", err)
	}
}

// signalReady writes one byte to fd and closes it.
func signalReady(fd int) error {
	defer unix.Close(fd) //nolint:errcheck

	if _, err := unix.Write(fd, []byte{1}); err != nil {
		return fmt.Errorf("write to fd %d: %w", fd, err)
	}

	return nil
}

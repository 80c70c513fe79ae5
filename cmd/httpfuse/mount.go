package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/httpfuse/internal/filesystem"
	"github.com/desertwitch/httpfuse/internal/logging"
	"github.com/desertwitch/httpfuse/internal/remote"
	"github.com/desertwitch/httpfuse/internal/webserver"
)

const (
	fsName           = "httpfuse"
	stackTraceBuffer = 1 << 24
)

func mountOptions(opts programOpts) []fuse.MountOption {
	mopts := []fuse.MountOption{
		fuse.ReadOnly(),
		fuse.FSName(fsName),
		fuse.Subtype(fsName),
	}
	if opts.allowOther {
		mopts = append(mopts, fuse.AllowOther())
	}

	return mopts
}

func mount(opts programOpts, fsys *filesystem.FS, client *remote.Client, rbuf *logging.RingBuffer) error {
	c, err := fuse.Mount(opts.mountDir, mountOptions(opts)...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(opts.mountDir) //nolint:errcheck

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	rbuf.Printf("Mounted %d file(s) on %q.\n", fsys.Len(), opts.mountDir)
	notifyHelper(rbuf)

	if opts.webserverAddr != "" {
		dash, err := webserver.NewFSDashboard(fsys, client, rbuf, Version)
		if err != nil {
			rbuf.Printf("Dashboard error: %v\n", err)
		} else {
			srv := dash.Serve(opts.webserverAddr)
			defer srv.Close()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(opts.mountDir); err != nil {
				rbuf.Printf("Unmount error: %v (try again later)\n", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	defer signal.Stop(sig1)
	go func() {
		for range sig1 {
			rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	defer signal.Stop(sig2)
	go func() {
		for range sig2 {
			rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen]) //nolint:errcheck
		}
	}()

	wg.Wait()

	return <-errChan
}

/*
mount.httpfuse - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by end users.

Usage:
  mount.httpfuse source mountpoint [-o key[=value],key[=value],...]

The source is either a single http(s) URL or the path of a file
listing one URL per line (which may be gzip or zstd compressed).

For running the filesystem as another (e.g. unprivileged) user:
  mount.httpfuse source mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entries):
  /etc/httpfuse/isos.txt        /mnt/isos   httpfuse   allow_other,webserver=:8000   0  0
  https://example.com/disk.img  /mnt/disk   httpfuse   block_size=4MiB               0  0

Filesystem-specific options need to be adapted into this format:
  --webserver :8000 --strict-reads => webserver=:8000,strict_reads

Mount helper events are logged to standard error (stderr).
Filesystem events are logged to '/var/log/httpfuse.log' (if writeable).
*/
//nolint:mnd,err113
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultType  = "httpfuse"
	mountTimeout = 20 * time.Second
	mountLog     = "/var/log/httpfuse.log"
)

var (
	Version string

	allowedKeys = map[string]struct{}{
		"proxy":            {},
		"max-idle-conns":   {},
		"timeout":          {},
		"user-agent":       {},
		"block-size":       {},
		"cache-size":       {},
		"cache-ttl":        {},
		"attr-ttl":         {},
		"strict-reads":     {},
		"allow-other":      {},
		"verbose":          {},
		"webserver":        {},
		"ring-buffer-size": {},
	}
)

type MountHelper struct {
	Program    string
	Type       string
	Source     string
	Mountpoint string
	Options    map[string]string

	Setuid  string
	Binary  string // overrides Type as the program to start
	LogFile string
	Timeout time.Duration
}

func NewMountHelper(args []string) (*MountHelper, error) {
	mh := &MountHelper{
		Program:    args[0],
		Source:     args[1],
		Type:       defaultType,
		Mountpoint: args[2],
		Options:    make(map[string]string),
		LogFile:    mountLog,
		Timeout:    mountTimeout,
	}

	if mh.Source == "" {
		return nil, errors.New("no source argument was given")
	}
	if mh.Mountpoint == "" {
		return nil, errors.New("no mountpoint argument was given")
	}

	basename := filepath.Base(mh.Program)
	if after, ok := strings.CutPrefix(basename, "mount.fuse."); ok {
		mh.Type = after
	} else if after0, ok0 := strings.CutPrefix(basename, "mount.fuseblk."); ok0 {
		mh.Type = after0
	}

	err := mh.parseOptions(args[3:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	if mh.Type == "" {
		err := mh.deriveTypeFromSource()
		if err != nil {
			return nil, fmt.Errorf("failed to derive fs type: %w", err)
		}
	}

	if !isURL(mh.Source) {
		abs, err := filepath.Abs(mh.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source path: %w", err)
		}
		mh.Source = abs
	}

	return mh, nil
}

func (mh *MountHelper) parseOptions(args []string) error {
	for i := 0; i < len(args); i++ { //nolint:intrange
		arg := args[i]

		if arg == "-v" || arg == "-o" {
			continue
		}

		if arg == "-t" {
			err := mh.deriveTypeFromArg(&i, args)
			if err != nil {
				return fmt.Errorf("failed to derive type: %w", err)
			}

			continue
		}

		for _, opt := range strings.Split(arg, ",") {
			if opt == "" {
				continue
			}
			opt = strings.TrimPrefix(opt, "--")

			key, val, hasVal := strings.Cut(opt, "=")
			key = strings.ReplaceAll(key, "_", "-")

			if err := mh.setOption(key, val, hasVal); err != nil {
				return err
			}
		}
	}

	return nil
}

// setOption stores a single option, consuming those meant for the helper.
// Unknown filesystem options are dropped, as mount(8) passes its own too.
func (mh *MountHelper) setOption(key, val string, hasVal bool) error {
	switch key {
	case "setuid":
		mh.Setuid = val

	case "xbin":
		if val == "" {
			return errors.New("empty value to option 'xbin'")
		}
		mh.Binary = val

	case "xlog":
		mh.LogFile = val

	case "xtim":
		secs, err := strconv.Atoi(val)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid value %q to option 'xtim' (need seconds > 0)", val)
		}
		mh.Timeout = time.Duration(secs) * time.Second

	default:
		if _, ok := allowedKeys[key]; !ok {
			return nil
		}
		if hasVal {
			mh.Options[key] = val
		} else {
			mh.Options[key] = ""
		}
	}

	return nil
}

func (mh *MountHelper) deriveTypeFromArg(i *int, args []string) error {
	*i++
	if *i >= len(args) {
		return errors.New("missing value to argument '-t'")
	}
	t := args[*i]
	if after, ok := strings.CutPrefix(t, "fuse."); ok {
		t = after
	} else if after0, ok0 := strings.CutPrefix(t, "fuseblk."); ok0 {
		t = after0
	}
	if t == "" {
		return errors.New("missing value to argument '-t'")
	}
	mh.Type = t

	return nil
}

func (mh *MountHelper) deriveTypeFromSource() error {
	parts := strings.SplitN(mh.Source, "#", 2) //nolint:mnd

	if len(parts) > 1 {
		mh.Type = parts[0]
		mh.Source = parts[1]
	} else {
		return errors.New("source argument is not in format 'type#source'")
	}

	if mh.Type == "" {
		return errors.New("empty type before '#' in source argument")
	}
	if mh.Source == "" {
		return errors.New("empty source after '#' in source argument")
	}

	return nil
}

func main() {
	if len(os.Args) < 3 {
		progName := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, helpTextLong+"\n", progName, Version, progName, progName, mountLog)
		os.Exit(1)
	}
	helper, err := NewMountHelper(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = helper.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

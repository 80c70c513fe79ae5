// Package filesystem implements the filesystem.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/httpfuse/internal/logging"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

const (
	fileBasePerm = 0o444 // RO
	dirBasePerm  = 0o555 // RO

	rootInode      = 1 // The one synthetic directory.
	firstFileInode = 2 // Inode of the first remote file.

	defaultAttrTTL = 1 * time.Second
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)
	_ Handler             = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
	errInvalidLocator  = errors.New("invalid locator")
)

// RemoteReader is a random-access reader bound to one remote resource.
type RemoteReader interface {
	io.Seeker
	io.Closer

	// Size returns the total size of the resource.
	Size() int64

	// ModTime returns the modification time, or the zero time if unknown.
	ModTime() time.Time

	// ReadExact reads exactly len(p) bytes from the cursor position.
	// Fewer bytes than requested must come with a non-nil error.
	ReadExact(ctx context.Context, p []byte) (int, error)
}

// OpenFunc opens a [RemoteReader] for the given locator.
type OpenFunc func(ctx context.Context, locator *url.URL) (RemoteReader, error)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified at runtime (once mounted).
type Options struct {
	// AttrTTL is how long the kernel may cache names and attributes.
	AttrTTL time.Duration

	// UID is the owner of all files and the directory.
	UID uint32

	// GID is the group of all files and the directory.
	GID uint32

	// StrictReads reports a read that could not be fully served by the
	// remote as EIO, instead of returning only the bytes that arrived.
	StrictReads atomic.Bool

	// Verbose logs every read request into the ring-buffer.
	Verbose atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	return &Options{
		AttrTTL: defaultAttrTTL,
		UID:     uint32(unix.Getuid()), //nolint:gosec
		GID:     uint32(unix.Getgid()), //nolint:gosec
	}
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// Errors is the amount of errors returned to the kernel.
	Errors atomic.Int64

	// TotalLookups is the amount of name resolutions.
	TotalLookups atomic.Int64

	// TotalReadDirs is the amount of directory enumerations.
	TotalReadDirs atomic.Int64

	// TotalReads is the amount of read requests.
	TotalReads atomic.Int64

	// TotalReadBytes is the amount of bytes returned for read requests.
	TotalReadBytes atomic.Int64

	// TotalReadTime is time spent serving read requests (in nanoseconds).
	TotalReadTime atomic.Int64

	// TotalShortReads is the amount of reads the remote could not fully serve.
	TotalShortReads atomic.Int64

	// TotalSeekErrors is the amount of reads that failed seeking.
	TotalSeekErrors atomic.Int64
}

// entry is one mounted remote resource.
type entry struct {
	inode   uint64
	name    string
	locator string
	attr    fuse.Attr

	mu     sync.Mutex // Guards the cursor of reader.
	reader RemoteReader
}

// FS is the core implementation of the filesystem. The set of files is
// established once by [NewFS] and never changes afterwards.
type FS struct {
	Options   *Options
	Metrics   *Metrics
	MountTime time.Time

	entries []*entry
	byName  map[string]int

	rbuf *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS] serving the given locators.
// You must call Close() once all work is complete.
//
// Every locator is parsed, opened and sized in order, before anything
// is returned. If any of them fails, all readers which were opened up
// to that point are closed again and the error is returned.
func NewFS(ctx context.Context, open OpenFunc, locators []string, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if open == nil {
		return nil, fmt.Errorf("%w: need an open function", errMissingArgument)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	fsys := &FS{
		Options:   opts,
		Metrics:   &Metrics{},
		MountTime: time.Now(),
		entries:   make([]*entry, 0, len(locators)),
		byName:    make(map[string]int, len(locators)),
		rbuf:      rbuf,
	}

	names := newNameAllocator()

	for i, loc := range locators {
		e, err := fsys.newEntry(ctx, open, names, loc, inodeForIndex(i))
		if err != nil {
			_ = fsys.Close()

			return nil, fmt.Errorf("locator %d (%q): %w", i, loc, err)
		}

		fsys.byName[e.name] = len(fsys.entries)
		fsys.entries = append(fsys.entries, e)

		rbuf.Printf("Opened: %q as %q (inode %d, %s)\n", loc, e.name, e.inode, humanize.IBytes(e.attr.Size))
	}

	return fsys, nil
}

func (fsys *FS) newEntry(ctx context.Context, open OpenFunc, names *nameAllocator, loc string, inode uint64) (*entry, error) {
	u, err := parseLocator(loc)
	if err != nil {
		return nil, err
	}

	name := names.assign(u)

	r, err := open(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}

	size := r.Size()
	if size < 0 {
		_ = r.Close()

		return nil, fmt.Errorf("failed to size: negative size %d", size)
	}

	return &entry{
		inode:   inode,
		name:    name,
		locator: loc,
		attr:    fsys.fileAttr(inode, uint64(size), r.ModTime()),
		reader:  r,
	}, nil
}

// parseLocator parses a locator, which must be an absolute URL with a host.
func parseLocator(loc string) (*url.URL, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLocator, err)
	}
	if u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return nil, fmt.Errorf("%w: need an absolute url with a host", errInvalidLocator)
	}

	return u, nil
}

// Close releases the readers of all files.
func (fsys *FS) Close() error {
	var errs []error

	for _, e := range fsys.entries {
		e.mu.Lock()
		if err := e.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", e.locator, err))
		}
		e.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Len returns the amount of files in the filesystem.
func (fsys *FS) Len() int {
	return len(fsys.entries)
}

// FileInfo describes one file of the filesystem.
type FileInfo struct {
	Inode   uint64 `json:"inode"`
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
	Locator string `json:"locator"`
}

// Files returns a description of all files, in inode order.
func (fsys *FS) Files() []FileInfo {
	out := make([]FileInfo, 0, len(fsys.entries))

	for _, e := range fsys.entries {
		out = append(out, FileInfo{
			Inode:   e.inode,
			Name:    e.name,
			Size:    e.attr.Size,
			Locator: e.locator,
		})
	}

	return out
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &rootDirNode{fsys: fsys}, nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// [FS] assigns all inodes upon construction, so a dynamic inode generation
// within the FUSE library (being the fallback on encountering zero inodes)
// is a violation of this design. Calls to this method will panic, revealing
// where internal inode handling does not produce the valid inode.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// WalkFunc gets called on each visited [fs.Node] as part of a [FS.Walk].
// Do note that as the root directory is synthetic, the [fuse.Dirent] will be nil.
type WalkFunc func(path string, dirent *fuse.Dirent, node fs.Node, attr fuse.Attr) error

// Walk walks the [FS] in-memory through its FUSE nodes,
// calling walkFn on the root directory and then each file.
func (fsys *FS) Walk(ctx context.Context, walkFn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	root := &rootDirNode{fsys: fsys}

	var rootAttr fuse.Attr
	if err := root.Attr(ctx, &rootAttr); err != nil {
		return fmt.Errorf("attr error at %q: %w", "/", err)
	}
	if err := walkFn("/", nil, root, rootAttr); err != nil {
		return fmt.Errorf("walkfn error at %q: %w", "/", err)
	}

	dirents, err := root.ReadDirAll(ctx)
	if err != nil {
		return fmt.Errorf("readdirall error at %q: %w", "/", err)
	}

	for _, de := range dirents {
		if de.Name == "." || de.Name == ".." {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context error: %w", err)
		}

		path := "/" + de.Name

		node, err := root.Lookup(ctx, &fuse.LookupRequest{Name: de.Name}, &fuse.LookupResponse{})
		if err != nil {
			return fmt.Errorf("lookup error for %q at %q: %w", de.Name, "/", err)
		}

		var attr fuse.Attr
		if err := node.Attr(ctx, &attr); err != nil {
			return fmt.Errorf("attr error at %q: %w", path, err)
		}

		if err := walkFn(path, &de, node, attr); err != nil {
			return fmt.Errorf("walkfn error at %q: %w", path, err)
		}
	}

	return nil
}

func (fsys *FS) countError(err error) error {
	fsys.Metrics.Errors.Add(1)

	return err
}

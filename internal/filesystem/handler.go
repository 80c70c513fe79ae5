package filesystem

import (
	"context"
	"io"
	"syscall"
	"time"

	"bazil.org/fuse"
)

// Handler is the set of operations the filesystem answers. Errors are
// [fuse.Errno] values: ENOENT for unknown inodes and names, EINVAL for
// reads that cannot be positioned (and EIO for failed reads, if strict).
type Handler interface {
	// Lookup resolves name within the directory parent.
	Lookup(ctx context.Context, parent uint64, name string) (fuse.Attr, error)

	// Getattr returns the attributes of the inode.
	Getattr(ctx context.Context, ino uint64) (fuse.Attr, error)

	// ReadDir enumerates the directory ino, starting at the given offset
	// into the sequence of ".", ".." and then all files in inode order.
	ReadDir(ctx context.Context, ino uint64, offset int64, fill DirFiller) error

	// Read returns up to size bytes of the file ino, starting at offset.
	Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error)
}

// DirFiller receives one directory entry and the offset that resumes the
// enumeration after it. It returns true when it could not take the entry,
// the enumeration then stops and the entry is to be requested again.
type DirFiller func(de fuse.Dirent, next int64) (full bool)

// Lookup implements [Handler].
func (fsys *FS) Lookup(_ context.Context, parent uint64, name string) (fuse.Attr, error) {
	fsys.Metrics.TotalLookups.Add(1)

	if parent != rootInode {
		return fuse.Attr{}, fsys.countError(fuse.ToErrno(syscall.ENOENT))
	}

	idx, ok := fsys.byName[name]
	if !ok {
		return fuse.Attr{}, fsys.countError(fuse.ToErrno(syscall.ENOENT))
	}

	return fsys.entries[idx].attr, nil
}

// Getattr implements [Handler].
func (fsys *FS) Getattr(_ context.Context, ino uint64) (fuse.Attr, error) {
	if ino == rootInode {
		return fsys.dirAttr(), nil
	}

	e, ok := fsys.entryByInode(ino)
	if !ok {
		return fuse.Attr{}, fsys.countError(fuse.ToErrno(syscall.ENOENT))
	}

	return e.attr, nil
}

// ReadDir implements [Handler].
func (fsys *FS) ReadDir(_ context.Context, ino uint64, offset int64, fill DirFiller) error {
	fsys.Metrics.TotalReadDirs.Add(1)

	if ino != rootInode {
		return fsys.countError(fuse.ToErrno(syscall.ENOENT))
	}
	if offset < 0 {
		return fsys.countError(fuse.ToErrno(syscall.EINVAL))
	}

	total := int64(len(fsys.entries)) + 2 //nolint:mnd

	for i := offset; i < total; i++ {
		if fill(fsys.direntAt(i), i+1) {
			break
		}
	}

	return nil
}

// direntAt returns the directory entry at position i of the enumeration.
func (fsys *FS) direntAt(i int64) fuse.Dirent {
	switch i {
	case 0:
		return fuse.Dirent{Inode: rootInode, Type: fuse.DT_Dir, Name: "."}
	case 1:
		return fuse.Dirent{Inode: rootInode, Type: fuse.DT_Dir, Name: ".."}
	default:
		e := fsys.entries[i-2]

		return fuse.Dirent{Inode: e.inode, Type: fuse.DT_File, Name: e.name}
	}
}

// Read implements [Handler].
//
// A read the remote cannot fully serve is not retried. Unless strict reads
// are enabled, the bytes that did arrive are returned as a short read.
func (fsys *FS) Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error) {
	fsys.Metrics.TotalReads.Add(1)

	e, ok := fsys.entryByInode(ino)
	if !ok {
		return nil, fsys.countError(fuse.ToErrno(syscall.ENOENT))
	}

	start := time.Now()
	defer func() {
		fsys.Metrics.TotalReadTime.Add(time.Since(start).Nanoseconds())
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.reader.Seek(offset, io.SeekStart); err != nil {
		fsys.Metrics.TotalSeekErrors.Add(1)
		fsys.rbuf.Printf("Error: %q->Read: seek to %d: %v\n", e.name, offset, err)

		return nil, fsys.countError(fuse.ToErrno(syscall.EINVAL))
	}

	buf := make([]byte, clampReadSize(size, e.attr.Size, offset))
	if fsys.Options.Verbose.Load() {
		fsys.rbuf.Printf("Read: %q: %d bytes at offset %d (%d requested)\n", e.name, len(buf), offset, size)
	}
	if len(buf) == 0 {
		return buf, nil
	}

	n, err := e.reader.ReadExact(ctx, buf)
	fsys.Metrics.TotalReadBytes.Add(int64(n))

	if err != nil {
		fsys.Metrics.TotalShortReads.Add(1)
		fsys.rbuf.Printf("Error: %q->Read: got %d of %d bytes at offset %d: %v\n", e.name, n, len(buf), offset, err)

		if fsys.Options.StrictReads.Load() {
			return nil, fsys.countError(fuse.ToErrno(syscall.EIO))
		}

		return buf[:n], nil
	}

	return buf, nil
}

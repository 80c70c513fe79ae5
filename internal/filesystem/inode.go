package filesystem

import (
	"os"
	"time"

	"bazil.org/fuse"
)

const attrBlockSize = 512

// inodeForIndex returns the inode of the file at index i of the table.
func inodeForIndex(i int) uint64 {
	return firstFileInode + uint64(i) //nolint:gosec
}

// entryByInode returns the file with the given inode, if it is within
// the range of live inodes [firstFileInode, firstFileInode+len(entries)).
func (fsys *FS) entryByInode(ino uint64) (*entry, bool) {
	if ino < firstFileInode {
		return nil, false
	}

	idx := ino - firstFileInode
	if idx >= uint64(len(fsys.entries)) {
		return nil, false
	}

	return fsys.entries[idx], true
}

// dirAttr returns the attributes of the one synthetic directory.
func (fsys *FS) dirAttr() fuse.Attr {
	epoch := time.Unix(0, 0)

	return fuse.Attr{
		Valid:     fsys.Options.AttrTTL,
		Inode:     rootInode,
		Mode:      os.ModeDir | dirBasePerm,
		Nlink:     2, //nolint:mnd
		Uid:       fsys.Options.UID,
		Gid:       fsys.Options.GID,
		Atime:     epoch,
		Mtime:     epoch,
		Ctime:     epoch,
		BlockSize: attrBlockSize,
	}
}

// fileAttr returns the attributes of a file, frozen upon construction.
// Files without a known modification time are dated to the epoch.
func (fsys *FS) fileAttr(inode uint64, size uint64, mtime time.Time) fuse.Attr {
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}

	return fuse.Attr{
		Valid:     fsys.Options.AttrTTL,
		Inode:     inode,
		Size:      size,
		Blocks:    (size + attrBlockSize - 1) / attrBlockSize,
		Mode:      fileBasePerm,
		Nlink:     1,
		Uid:       fsys.Options.UID,
		Gid:       fsys.Options.GID,
		Atime:     mtime,
		Mtime:     mtime,
		Ctime:     mtime,
		BlockSize: attrBlockSize,
	}
}

// clampReadSize returns how many bytes a read of size bytes at offset can
// return from a file of fileSize bytes, which is zero at or beyond the end.
func clampReadSize(size int, fileSize uint64, offset int64) int {
	if size <= 0 || offset < 0 || uint64(offset) >= fileSize {
		return 0
	}

	remaining := fileSize - uint64(offset)
	if uint64(size) > remaining {
		return int(remaining) //nolint:gosec
	}

	return size
}

package filesystem

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node         = (*fileNode)(nil)
	_ fs.NodeOpener   = (*fileNode)(nil)
	_ fs.HandleReader = (*fileNode)(nil)
)

// fileNode is one remote resource, presented as a regular read-only file.
// The kernel requested bytes are fetched from the remote on demand.
type fileNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
}

func (f *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := f.fsys.Getattr(ctx, f.inode)
	if err != nil {
		return err
	}
	*a = attr

	return nil
}

func (f *fileNode) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, f.fsys.countError(fuse.ToErrno(syscall.EROFS))
	}
	resp.Flags |= fuse.OpenKeepCache

	return f, nil
}

func (f *fileNode) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := f.fsys.Read(ctx, f.inode, req.Offset, req.Size)
	if err != nil {
		return err
	}
	resp.Data = data

	return nil
}

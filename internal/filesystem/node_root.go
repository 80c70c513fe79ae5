package filesystem

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

const readDirBatchSize = 128

var (
	_ fs.Node                = (*rootDirNode)(nil)
	_ fs.NodeOpener          = (*rootDirNode)(nil)
	_ fs.HandleReadDirAller  = (*rootDirNode)(nil)
	_ fs.NodeRequestLookuper = (*rootDirNode)(nil)
)

// rootDirNode is the one synthetic directory, containing all remote files.
type rootDirNode struct {
	fsys *FS // Pointer to our filesystem.
}

func (d *rootDirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.fsys.Getattr(ctx, rootInode)
	if err != nil {
		return err
	}
	*a = attr

	return nil
}

func (d *rootDirNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	resp.Flags |= fuse.OpenKeepCache | fuse.OpenCacheDir

	return d, nil
}

func (d *rootDirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	resp := make([]fuse.Dirent, 0, d.fsys.Len()+2) //nolint:mnd

	for offset := int64(0); ; {
		batch := 0

		err := d.fsys.ReadDir(ctx, rootInode, offset, func(de fuse.Dirent, next int64) bool {
			if batch == readDirBatchSize {
				return true
			}
			resp = append(resp, de)
			offset = next
			batch++

			return false
		})
		if err != nil {
			d.fsys.rbuf.Printf("Error: %q->ReadDirAll: %v\n", "/", err)

			return nil, err
		}

		if batch < readDirBatchSize {
			return resp, nil
		}
	}
}

func (d *rootDirNode) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	attr, err := d.fsys.Lookup(ctx, rootInode, req.Name)
	if err != nil {
		return nil, err
	}
	resp.EntryValid = d.fsys.Options.AttrTTL

	return &fileNode{fsys: d.fsys, inode: attr.Inode}, nil
}

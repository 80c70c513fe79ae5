package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

var (
	_ io.ReadSeekCloser = (*Reader)(nil)
	_ io.ReaderAt       = (*Reader)(nil)
)

// Reader is a random-access reader over one remote resource.
//
// The cursor used by Read, ReadExact and Seek is not synchronized, callers
// must serialize those. ReadAt does not touch the cursor and is safe for
// concurrent use.
type Reader struct {
	client  *Client
	locator string
	size    int64
	mtime   time.Time

	pos    int64
	closed atomic.Bool
}

// Locator returns the locator the [Reader] was opened for.
func (r *Reader) Locator() string {
	return r.locator
}

// Size returns the total size of the resource, as established upon opening.
func (r *Reader) Size() int64 {
	return r.size
}

// ModTime returns the Last-Modified time reported by the server,
// or the zero time if there was none.
func (r *Reader) ModTime() time.Time {
	return r.mtime
}

// Seek implements [io.Seeker]. Seeking beyond the end of the resource is
// allowed, subsequent reads then return [io.EOF].
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return r.pos, fmt.Errorf("%w: whence %d", ErrInvalidSeek, whence)
	}

	if abs < 0 {
		return r.pos, fmt.Errorf("%w: negative position %d", ErrInvalidSeek, abs)
	}
	r.pos = abs

	return abs, nil
}

// Read implements [io.Reader], reading from the cursor position.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.readAt(context.Background(), p, r.pos)
	r.pos += int64(n)

	if n > 0 && errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, err
}

// ReadExact reads exactly len(p) bytes from the cursor position, advancing
// the cursor by the amount of bytes that were obtained. If fewer bytes could
// be read, the error is never nil (and [io.ErrUnexpectedEOF] at the latest).
func (r *Reader) ReadExact(ctx context.Context, p []byte) (int, error) {
	n, err := r.readAt(ctx, p, r.pos)
	r.pos += int64(n)

	if n < len(p) && (err == nil || errors.Is(err, io.EOF)) {
		err = io.ErrUnexpectedEOF
	}
	if n == len(p) {
		err = nil
	}

	return n, err
}

// ReadAt implements [io.ReaderAt].
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.readAt(context.Background(), p, off)
}

// Close marks the [Reader] as closed, any further reads will fail.
// The connections are owned by the [Client] and stay open for re-use.
func (r *Reader) Close() error {
	r.closed.Store(true)

	return nil
}

func (r *Reader) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidSeek, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= r.size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), r.size-off)

	var n int
	var err error

	if r.client.cache != nil {
		n, err = r.client.cache.readAt(ctx, r, p[:want], off)
	} else {
		var data []byte
		data, err = r.client.fetch(ctx, r.locator, off, want)
		n = copy(p, data)
	}

	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}

	return n, err
}

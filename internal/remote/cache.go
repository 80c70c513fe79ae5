package remote

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// blockCache holds aligned blocks of remote resources in memory, so that
// the small sequential reads of the kernel do not each cause a request.
// Only complete blocks are cached, short fetches are handed out once.
type blockCache struct {
	client    *Client
	blockSize int64
	blocks    *ttlcache.Cache[string, []byte]
	inflight  singleflight.Group
}

func newBlockCache(c *Client, blockSize int64, size int, ttl time.Duration) *blockCache {
	bc := &blockCache{
		client:    c,
		blockSize: blockSize,
		blocks: ttlcache.New(
			ttlcache.WithTTL[string, []byte](ttl),
			ttlcache.WithCapacity[string, []byte](uint64(size)),
		),
	}
	go bc.blocks.Start()

	return bc
}

// Stop stops the expiration of blocks and drops all blocks.
func (bc *blockCache) Stop() {
	bc.blocks.Stop()
	bc.blocks.DeleteAll()
}

// Len returns the amount of cached blocks.
func (bc *blockCache) Len() int {
	return bc.blocks.Len()
}

func blockKey(locator string, index int64) string {
	return locator + "#" + strconv.FormatInt(index, 10)
}

// block returns the block with the given index of the resource behind r.
// A fetch is shared by all concurrent readers of the block, so it is not
// cancelled along with the reader that happened to start it.
func (bc *blockCache) block(ctx context.Context, r *Reader, index int64) ([]byte, error) {
	key := blockKey(r.locator, index)

	if item := bc.blocks.Get(key); item != nil {
		bc.client.Metrics.CacheHits.Add(1)

		return item.Value(), nil
	}

	fetchCtx := context.WithoutCancel(ctx)

	v, err, _ := bc.inflight.Do(key, func() (any, error) {
		if item := bc.blocks.Get(key); item != nil {
			bc.client.Metrics.CacheHits.Add(1)

			return item.Value(), nil
		}
		bc.client.Metrics.CacheMisses.Add(1)

		start := index * bc.blockSize
		length := min(bc.blockSize, r.size-start)

		data, err := bc.client.fetch(fetchCtx, r.locator, start, length)
		if err != nil {
			return data, err
		}
		bc.blocks.Set(key, data, ttlcache.DefaultTTL)

		return data, nil
	})

	data, _ := v.([]byte)

	return data, err //nolint:wrapcheck
}

// readAt fills p from the blocks covering [off, off+len(p)). The caller has
// already clamped p to the size of the resource.
func (bc *blockCache) readAt(ctx context.Context, r *Reader, p []byte, off int64) (int, error) {
	n := 0

	for n < len(p) {
		pos := off + int64(n)
		index := pos / bc.blockSize
		within := pos - index*bc.blockSize

		data, err := bc.block(ctx, r, index)
		if within < int64(len(data)) {
			n += copy(p[n:], data[within:])
		}
		if err != nil {
			return n, fmt.Errorf("block %d: %w", index, err)
		}

		expected := min(bc.blockSize, r.size-index*bc.blockSize)
		if int64(len(data)) < expected {
			return n, io.ErrUnexpectedEOF
		}
	}

	return n, nil
}

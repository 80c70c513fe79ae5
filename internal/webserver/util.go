//nolint:mnd
package webserver

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
)

// avgReadTime returns a string of the average time to serve a read.
func (d *FSDashboard) avgReadTime() string {
	return time.Duration(d.fsys.Metrics.TotalReadTime.Load() / max(1, d.fsys.Metrics.TotalReads.Load())).String()
}

// avgFetchSpeed returns a string of the average throughput of range requests.
func (d *FSDashboard) avgFetchSpeed() string {
	bytes := d.client.Metrics.FetchedBytes.Load()
	ns := d.client.Metrics.FetchTime.Load()

	if ns <= 0 || bytes <= 0 {
		return "0 B/s"
	}

	bps := float64(bytes) / (float64(ns) / 1e9)

	return humanize.IBytes(uint64(bps)) + "/s"
}

// cacheRatio returns a string of the block cache hit/miss ratio.
func (d *FSDashboard) cacheRatio() string {
	hits := d.client.Metrics.CacheHits.Load()
	misses := d.client.Metrics.CacheMisses.Load()
	total := hits + misses

	if total == 0 {
		return "0.00%"
	}

	perc := (float64(hits) / float64(total)) * 100

	return fmt.Sprintf("%.2f%%", perc)
}

// totalSize returns a string of the combined size of all files.
func (d *FSDashboard) totalSize() string {
	var total uint64

	for _, fi := range d.fsys.Files() {
		total += fi.Size
	}

	return humanize.IBytes(total)
}

// nonNegativeBytes returns a string of a byte counter, clamped at zero.
func nonNegativeBytes(v int64) string {
	if v < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(v))
}

// proxyOrEnvironment returns the configured proxy without its password,
// or a placeholder if the proxy settings of the environment are used.
func proxyOrEnvironment(p string) string {
	if p == "" {
		return "(environment)"
	}

	u, err := url.Parse(p)
	if err != nil {
		return "(invalid)"
	}

	return u.Redacted()
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}

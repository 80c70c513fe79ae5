package webserver

import (
	"strconv"
	"time"

	"github.com/desertwitch/httpfuse/internal/filesystem"
	"github.com/desertwitch/httpfuse/internal/remote"
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*fsCollector)(nil)

// fsCollector implements [prometheus.Collector] for the filesystem and its
// HTTP client. It reads the atomic counters on each scrape.
type fsCollector struct {
	fsys   *filesystem.FS
	client *remote.Client

	fileSize *prometheus.Desc // Labels: inode, name.

	errors      *prometheus.Desc
	lookups     *prometheus.Desc
	readDirs    *prometheus.Desc
	reads       *prometheus.Desc
	readBytes   *prometheus.Desc
	readSeconds *prometheus.Desc
	shortReads  *prometheus.Desc
	seekErrors  *prometheus.Desc

	requests      *prometheus.Desc
	requestErrors *prometheus.Desc
	fetchedBytes  *prometheus.Desc
	fetchSeconds  *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	cachedBlocks  *prometheus.Desc
}

func newFSCollector(fsys *filesystem.FS, client *remote.Client) *fsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("httpfuse_"+name, help, labels, nil)
	}

	return &fsCollector{
		fsys:   fsys,
		client: client,

		fileSize: desc("file_size_bytes", "Size of a mounted remote file.", "inode", "name"),

		errors:      desc("errors_total", "Errors returned to the kernel."),
		lookups:     desc("lookups_total", "Name resolutions in the directory."),
		readDirs:    desc("readdirs_total", "Directory enumerations."),
		reads:       desc("reads_total", "Read requests."),
		readBytes:   desc("read_bytes_total", "Bytes returned for read requests."),
		readSeconds: desc("read_seconds_total", "Time spent serving read requests."),
		shortReads:  desc("short_reads_total", "Reads the remote could not fully serve."),
		seekErrors:  desc("seek_errors_total", "Reads that failed positioning."),

		requests:      desc("http_requests_total", "HTTP requests made to remotes."),
		requestErrors: desc("http_request_errors_total", "Failed HTTP requests."),
		fetchedBytes:  desc("http_fetched_bytes_total", "Body bytes received for range requests."),
		fetchSeconds:  desc("http_fetch_seconds_total", "Time spent on range requests."),
		cacheHits:     desc("cache_hits_total", "Block reads served from memory."),
		cacheMisses:   desc("cache_misses_total", "Block reads that went to the network."),
		cachedBlocks:  desc("cache_blocks", "Blocks currently held in memory."),
	}
}

func (c *fsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.fileSize,
		c.errors, c.lookups, c.readDirs, c.reads, c.readBytes, c.readSeconds, c.shortReads, c.seekErrors,
		c.requests, c.requestErrors, c.fetchedBytes, c.fetchSeconds, c.cacheHits, c.cacheMisses, c.cachedBlocks,
	} {
		ch <- d
	}
}

func (c *fsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, fi := range c.fsys.Files() {
		ch <- prometheus.MustNewConstMetric(c.fileSize, prometheus.GaugeValue,
			float64(fi.Size), strconv.FormatUint(fi.Inode, 10), fi.Name)
	}

	fm := c.fsys.Metrics
	counter(ch, c.errors, fm.Errors.Load())
	counter(ch, c.lookups, fm.TotalLookups.Load())
	counter(ch, c.readDirs, fm.TotalReadDirs.Load())
	counter(ch, c.reads, fm.TotalReads.Load())
	counter(ch, c.readBytes, fm.TotalReadBytes.Load())
	seconds(ch, c.readSeconds, fm.TotalReadTime.Load())
	counter(ch, c.shortReads, fm.TotalShortReads.Load())
	counter(ch, c.seekErrors, fm.TotalSeekErrors.Load())

	cm := c.client.Metrics
	counter(ch, c.requests, cm.Requests.Load())
	counter(ch, c.requestErrors, cm.RequestErrors.Load())
	counter(ch, c.fetchedBytes, cm.FetchedBytes.Load())
	seconds(ch, c.fetchSeconds, cm.FetchTime.Load())
	counter(ch, c.cacheHits, cm.CacheHits.Load())
	counter(ch, c.cacheMisses, cm.CacheMisses.Load())

	ch <- prometheus.MustNewConstMetric(c.cachedBlocks, prometheus.GaugeValue, float64(c.client.CachedBlocks()))
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v int64) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(max(0, v)))
}

func seconds(ch chan<- prometheus.Metric, d *prometheus.Desc, ns int64) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, time.Duration(max(0, ns)).Seconds())
}

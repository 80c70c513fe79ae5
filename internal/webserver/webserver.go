// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/desertwitch/httpfuse/assets"
	"github.com/desertwitch/httpfuse/internal/filesystem"
	"github.com/desertwitch/httpfuse/internal/logging"
	"github.com/desertwitch/httpfuse/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version  string
	fsys     *filesystem.FS
	client   *remote.Client
	rbuf     *logging.RingBuffer
	registry *prometheus.Registry
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
func NewFSDashboard(fsys *filesystem.FS, client *remote.Client, rbuf *logging.RingBuffer, version string) (*FSDashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: need http client", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newFSCollector(fsys, client),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &FSDashboard{
		version:  version,
		fsys:     fsys,
		client:   client,
		rbuf:     rbuf,
		registry: reg,
	}, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux()} //nolint:gosec

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/files.json", d.filesHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)

	mux.HandleFunc("/set/strict-reads/{value}",
		d.booleanHandler("Strict reads", &d.fsys.Options.StrictReads))
	mux.HandleFunc("/set/verbose/{value}",
		d.booleanHandler("Verbose logging", &d.fsys.Options.Verbose))

	mux.HandleFunc("/httpfuse.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write(assets.Logo)
	})

	return mux
}

type fsDashboardData struct {
	AllocBytes       string   `json:"allocBytes"`
	AttrTTL          string   `json:"attrTtl"`
	AvgFetchSpeed    string   `json:"avgFetchSpeed"`
	AvgReadTime      string   `json:"avgReadTime"`
	BlockSize        string   `json:"blockSize"`
	CacheRatio       string   `json:"cacheRatio"`
	CacheSize        int      `json:"cacheSize"`
	CacheTTL         string   `json:"cacheTtl"`
	CachedBlocks     int      `json:"cachedBlocks"`
	Files            int      `json:"files"`
	Logs             []string `json:"logs"`
	NumGC            uint32   `json:"numGc"`
	Proxy            string   `json:"proxy"`
	RingBufferSize   int      `json:"ringBufferSize"`
	StrictReads      string   `json:"strictReads"`
	SysBytes         string   `json:"sysBytes"`
	TotalAlloc       string   `json:"totalAlloc"`
	TotalCacheHits   int64    `json:"totalCacheHits"`
	TotalCacheMisses int64    `json:"totalCacheMisses"`
	TotalErrors      int64    `json:"totalErrors"`
	TotalFetched     string   `json:"totalFetched"`
	TotalLookups     int64    `json:"totalLookups"`
	TotalReadBytes   string   `json:"totalReadBytes"`
	TotalReadDirs    int64    `json:"totalReadDirs"`
	TotalReads       int64    `json:"totalReads"`
	TotalReqErrors   int64    `json:"totalRequestErrors"`
	TotalRequests    int64    `json:"totalRequests"`
	TotalSeekErrors  int64    `json:"totalSeekErrors"`
	TotalShortReads  int64    `json:"totalShortReads"`
	TotalSize        string   `json:"totalSize"`
	Uptime           string   `json:"uptime"`
	Verbose          string   `json:"verbose"`
	Version          string   `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	return fsDashboardData{
		AllocBytes:       humanize.IBytes(m.Alloc),
		AttrTTL:          d.fsys.Options.AttrTTL.String(),
		AvgFetchSpeed:    d.avgFetchSpeed(),
		AvgReadTime:      d.avgReadTime(),
		BlockSize:        humanize.IBytes(uint64(max(0, d.client.Options.BlockSize))),
		CacheRatio:       d.cacheRatio(),
		CacheSize:        d.client.Options.CacheSize,
		CacheTTL:         d.client.Options.CacheTTL.String(),
		CachedBlocks:     d.client.CachedBlocks(),
		Files:            d.fsys.Len(),
		Logs:             lines,
		NumGC:            m.NumGC,
		Proxy:            proxyOrEnvironment(d.client.Options.Proxy),
		RingBufferSize:   d.rbuf.Size(),
		StrictReads:      enabledOrDisabled(d.fsys.Options.StrictReads.Load()),
		SysBytes:         humanize.IBytes(m.Sys),
		TotalAlloc:       humanize.IBytes(m.TotalAlloc),
		TotalCacheHits:   d.client.Metrics.CacheHits.Load(),
		TotalCacheMisses: d.client.Metrics.CacheMisses.Load(),
		TotalErrors:      d.fsys.Metrics.Errors.Load(),
		TotalFetched:     nonNegativeBytes(d.client.Metrics.FetchedBytes.Load()),
		TotalLookups:     d.fsys.Metrics.TotalLookups.Load(),
		TotalReadBytes:   nonNegativeBytes(d.fsys.Metrics.TotalReadBytes.Load()),
		TotalReadDirs:    d.fsys.Metrics.TotalReadDirs.Load(),
		TotalReads:       d.fsys.Metrics.TotalReads.Load(),
		TotalReqErrors:   d.client.Metrics.RequestErrors.Load(),
		TotalRequests:    d.client.Metrics.Requests.Load(),
		TotalSeekErrors:  d.fsys.Metrics.TotalSeekErrors.Load(),
		TotalShortReads:  d.fsys.Metrics.TotalShortReads.Load(),
		TotalSize:        d.totalSize(),
		Uptime:           humanize.Time(d.fsys.MountTime),
		Verbose:          enabledOrDisabled(d.fsys.Options.Verbose.Load()),
		Version:          d.version,
	}
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		fsDashboardData

		Table []filesystem.FileInfo
	}{d.collectMetrics(), d.fsys.Files()}

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) filesHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.fsys.Files()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	d.fsys.Metrics.Errors.Store(0)
	d.fsys.Metrics.TotalLookups.Store(0)
	d.fsys.Metrics.TotalReadDirs.Store(0)
	d.fsys.Metrics.TotalReads.Store(0)
	d.fsys.Metrics.TotalReadBytes.Store(0)
	d.fsys.Metrics.TotalReadTime.Store(0)
	d.fsys.Metrics.TotalShortReads.Store(0)
	d.fsys.Metrics.TotalSeekErrors.Store(0)

	d.client.Metrics.Requests.Store(0)
	d.client.Metrics.RequestErrors.Store(0)
	d.client.Metrics.FetchedBytes.Store(0)
	d.client.Metrics.FetchTime.Store(0)
	d.client.Metrics.CacheHits.Store(0)
	d.client.Metrics.CacheMisses.Store(0)

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}

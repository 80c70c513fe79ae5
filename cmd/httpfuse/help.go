package main

const (
	helpTextUse = "httpfuse <mount-dir> (--url <url> | --file <list>)"

	helpTextShort = "a read-only FUSE filesystem for remote HTTP resources"

	helpTextLong = `httpfuse is a read-only FUSE filesystem that presents remote HTTP resources
as regular files within one flat directory. File sizes are established when
mounting, and file contents are fetched on demand using HTTP range requests,
so that consumers can seek and read without ever downloading entire files.
It includes a HTTP webserver for a diagnostics dashboard and runtime settings.

Resources are given either as a single URL (--url) or as a file containing one
URL per line (--file), which may also be compressed with gzip or zstd. Empty
lines and lines beginning with '#' are ignored. Every resource becomes a file
named after the last segment of its URL path ("unk_<n>" if there is none).

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard metrics in JSON format
- "/metrics" for the metrics in the Prometheus exposition format
- "/files.json" for the table of files and their URLs
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/set/strict-reads/<bool>" for reporting incomplete reads as I/O errors
- "/set/verbose/<bool>" for adapting the verbosity of the event ring-buffer`
)

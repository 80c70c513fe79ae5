package main

const (
	helpTextLong = `%s (%s) - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by the end users.

Usage:
  %s source mountpoint [-o key[=value],key[=value],...]

The source is either a single http(s) URL or the path of a file
listing one URL per line (which may be gzip or zstd compressed).

For running the filesystem as another (e.g. unprivileged) user:
  %s source mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entries):
  /etc/httpfuse/isos.txt        /mnt/isos   httpfuse   allow_other,webserver=:8000   0  0
  https://example.com/disk.img  /mnt/disk   httpfuse   block_size=4MiB               0  0

Additional mount options to control mount helper behavior itself:
  setuid=USER (as username or UID; overrides executing user)
  xbin=/full/path/to/httpfuse/binary (overrides filesystem binary)
  xlog=/full/path/to/writeable/logfile (overrides filesystem logfile)
  xtim=SECS (numeric and in seconds; overrides filesystem mount timeout)

Filesystem-specific options need to be adapted into this format:
  --webserver :8000 --strict-reads => webserver=:8000,strict_reads

Note that FUSE mount helper events are printed to standard error (stderr).
Filesystem events are printed to %q (if it is writeable).`

	helpErrNotFound = `mount.httpfuse error: httpfuse not found within $PATH dirs.
Perhaps you installed it into some non-standard directory?
Some operating systems also mangle the environment variable.
Do try to pass "xbin=/full/path/to/binary" as a mount option.`

	helpErrMountTimeout = `mount.httpfuse error: mount did not appear within %d seconds.
Opening all remote resources may take long for large lists or slow servers.
You can raise this timeout by passing "xtim=SECS" as a mount option.
But do first try checking %q for more (error) information.`
)

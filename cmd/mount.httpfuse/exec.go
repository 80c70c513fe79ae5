//nolint:mnd,err113,noctx
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
)

const (
	helperFDEnv       = "HTTPFUSE_HELPER_FD"
	mountInfoPath     = "/proc/self/mountinfo"
	mountPollInterval = 200 * time.Millisecond
)

var (
	errMountTimeout = errors.New("timed out: mountpoint not found")

	systemBinDirs = []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"}

	// mountInfoEscaper escapes a path the way the kernel writes it into mountinfo.
	mountInfoEscaper = strings.NewReplacer(`\`, `\134`, " ", `\040`, "\t", `\011`, "\n", `\012`)
)

func (mh *MountHelper) BuildCommand() []string {
	var parts []string

	parts = append(parts, mh.binary())
	parts = append(parts, mh.Mountpoint)
	if isURL(mh.Source) {
		parts = append(parts, "--url", mh.Source)
	} else {
		parts = append(parts, "--file", mh.Source)
	}
	parts = append(parts, mh.BuildOptions()...)

	if mh.LogFile != "" {
		parts = append(parts, "--logfile", mh.LogFile)
	}

	return parts
}

func (mh *MountHelper) binary() string {
	if mh.Binary != "" {
		return mh.Binary
	}

	return mh.Type
}

func (mh *MountHelper) BuildOptions() []string {
	parts := []string{}

	if len(mh.Options) > 0 {
		keys := make([]string, 0, len(mh.Options))
		for k := range mh.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			val := mh.Options[key]
			if val == "" {
				parts = append(parts, "--"+key)
			} else {
				parts = append(parts, "--"+key)
				parts = append(parts, val)
			}
		}
	}

	return parts
}

func (mh *MountHelper) Execute() error {
	mh.setupEnvironment()

	if _, err := exec.LookPath(mh.binary()); err != nil {
		return errors.New(helpErrNotFound)
	}

	cmdArgs := mh.BuildCommand()
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)

	spa := &syscall.SysProcAttr{Setsid: true}
	if mh.Setuid != "" {
		uid, gid, err := resolveUser(mh.Setuid)
		if err == nil {
			spa.Credential = &syscall.Credential{
				Uid: uid,
				Gid: gid,
			}
		} else {
			safeCmdArgs := make([]string, len(cmdArgs))
			for i, arg := range cmdArgs {
				safeCmdArgs[i] = shellescape.Quote(arg)
			}
			innerCmdLine := strings.Join(safeCmdArgs, " ")
			outerCmdLine := fmt.Sprintf("su - %s -c %s", shellescape.Quote(mh.Setuid), shellescape.Quote(innerCmdLine))
			cmd = exec.Command("/bin/sh", "-c", outerCmdLine)
		}
	}
	cmd.SysProcAttr = spa

	fd, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open /dev/null: %w", err)
	}
	defer fd.Close()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = fd, fd, fd

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe error: %w", err)
	}
	defer r.Close()
	cmd.Env = append(os.Environ(), helperFDEnv+"=3")
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process error: %w", err)
	}
	_ = cmd.Process.Release()
	w.Close()

	if err := mh.waitForMount(r); err != nil {
		if errors.Is(err, errMountTimeout) {
			return fmt.Errorf(helpErrMountTimeout, int(mh.Timeout.Seconds()), mh.LogFile)
		}

		return fmt.Errorf("mount error: %w", err)
	}

	return nil
}

// setupEnvironment completes the sparse environment mount(8) may run us in,
// so the daemon binary can be found and has a home when not changing users.
func (mh *MountHelper) setupEnvironment() {
	if mh.Setuid == "" && os.Getenv("HOME") == "" {
		os.Setenv("HOME", "/root")
	}

	dirs := filepath.SplitList(os.Getenv("PATH"))
	for _, dir := range systemBinDirs {
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	os.Setenv("PATH", strings.Join(dirs, string(os.PathListSeparator)))
}

// waitForMount blocks until the daemon reports readiness on ready, or the
// mountpoint is listed in the mount table, or the timeout has passed. The
// daemon closing ready without a byte (e.g. when it exited) is no verdict,
// as a daemon started through su(1) may not inherit the descriptor.
func (mh *MountHelper) waitForMount(ready io.Reader) error {
	readyCh := make(chan error, 1)
	go func() {
		_, err := ready.Read(make([]byte, 1))
		readyCh <- err
	}()

	poll := time.NewTicker(mountPollInterval)
	defer poll.Stop()

	deadline := time.NewTimer(mh.Timeout)
	defer deadline.Stop()

	for {
		select {
		case err := <-readyCh:
			if err == nil {
				return nil
			}
			readyCh = nil

		case <-poll.C:
			if mh.mounted() {
				return nil
			}

		case <-deadline.C:
			if mh.mounted() {
				return nil
			}

			return errMountTimeout
		}
	}
}

// mounted reports if the mountpoint shows in the mount table of the process.
func (mh *MountHelper) mounted() bool {
	listed, _ := mountpointListed(mountInfoPath, mh.Mountpoint)

	return listed
}

// mountpointListed reports if a mountinfo(5) file at path has an entry for
// mountpoint, comparing the escaped fifth field of each line.
func mountpointListed(path, mountpoint string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open mount table: %w", err)
	}
	defer f.Close()

	want := mountInfoEscaper.Replace(filepath.Clean(mountpoint))

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 4 && fields[4] == want {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read mount table: %w", err)
	}

	return false, nil
}

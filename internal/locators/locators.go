// Package locators implements the loading of resource locator lists.
package locators

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNoLocators is returned when a list does not contain any locators.
	ErrNoLocators = errors.New("no locators")

	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// FromValue returns a list containing the single given locator.
func FromValue(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("%w: empty value", ErrNoLocators)
	}

	return []string{v}, nil
}

// FromFile reads a list with one locator per line from the file at path.
// Files compressed with gzip or zstd are decompressed transparently.
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()

	locs, err := FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}

	return locs, nil
}

// FromReader reads a list with one locator per line from r. Surrounding
// whitespace is trimmed, empty lines and lines starting with '#' are skipped.
func FromReader(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)

	rd, closeFn, err := decompressor(br)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var locs []string

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) //nolint:mnd
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		locs = append(locs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	if len(locs) == 0 {
		return nil, ErrNoLocators
	}

	return locs, nil
}

// decompressor sniffs the first bytes of br for a known compression format.
func decompressor(br *bufio.Reader) (io.Reader, func(), error) {
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip: %w", err)
		}

		return zr, func() { zr.Close() }, nil

	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open zstd: %w", err)
		}

		return zr, zr.Close, nil

	default:
		return br, func() {}, nil
	}
}

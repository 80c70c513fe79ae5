package filesystem

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

const unknownNamePrefix = "unk"

// nameAllocator hands out the filenames during one construction of a [FS].
// Every name it returns is distinct from all names it returned before.
type nameAllocator struct {
	taken   map[string]struct{}
	unknown int // Never reset, so no synthesized name is ever reused.
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{
		taken: make(map[string]struct{}),
	}
}

// assign returns the filename for a locator: the final segment of its
// path, or a synthesized name if it does not have a usable one.
func (na *nameAllocator) assign(u *url.URL) string {
	if name, ok := segmentName(u); ok {
		return na.unique(name)
	}

	return na.synthesize()
}

// synthesize returns the next free "unk_<n>" name.
func (na *nameAllocator) synthesize() string {
	for {
		name := unknownNamePrefix + "_" + strconv.Itoa(na.unknown)
		na.unknown++

		if _, ok := na.taken[name]; !ok {
			na.taken[name] = struct{}{}

			return name
		}
	}
}

// unique returns name, or if that is taken, the first free "<stem>_<k><ext>".
func (na *nameAllocator) unique(name string) string {
	if _, ok := na.taken[name]; !ok {
		na.taken[name] = struct{}{}

		return name
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" { // ".bashrc"
		stem, ext = name, ""
	}

	for k := 1; ; k++ {
		candidate := stem + "_" + strconv.Itoa(k) + ext

		if _, ok := na.taken[candidate]; !ok {
			na.taken[candidate] = struct{}{}

			return candidate
		}
	}
}

// segmentName returns the unescaped final path segment of u. Segments which
// are empty, cannot be unescaped or are not usable as filename are rejected.
func segmentName(u *url.URL) (string, bool) {
	p := u.EscapedPath()

	seg := p[strings.LastIndex(p, "/")+1:]
	if seg == "" {
		return "", false
	}

	name, err := url.PathUnescape(seg)
	if err != nil {
		return "", false
	}

	if name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return "", false
	}

	return name, true
}

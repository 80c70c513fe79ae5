// Package assets provides embedded assets for the httpfuse program.
package assets

import _ "embed"

// Logo is a byte slice containing the embedded httpfuse program logo.
//
//go:embed httpfuse.svg
var Logo []byte

package migrations

import "embed"

// Files exposes the profile and auth storage migrations embedded into the binary.
//
//go:embed *.sql
var Files embed.FS

package migrations

import "embed"

// Files embeds the up and down migrations for golang-migrate's iofs source.
//
//go:embed *.sql
var Files embed.FS

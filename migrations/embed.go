// Package migrations embeds the numbered schema files applied by
// `pyneumonia-server migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

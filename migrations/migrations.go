// Package migrations embeds the primary database schema so deployments
// do not depend on the working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

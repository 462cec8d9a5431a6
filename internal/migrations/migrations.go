package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// GetSchema returns every migration for the dialect concatenated in file
// name order. All statements are idempotent.
func GetSchema(dialect Dialect) (string, error) {
	names, err := fs.Glob(files, string(dialect)+"/*.sql")
	if err != nil {
		return "", fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no migrations found for dialect %q", dialect)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		b.Write(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

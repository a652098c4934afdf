package database

import (
	"context"
	"fmt"
	"sort"

	schemasql "pulse/pkg/database/sql"
	"pulse/pkg/logging"
)

// EnsureSchema applies the embedded schema files in lexical order. All
// statements are idempotent (CREATE ... IF NOT EXISTS), so running this on
// every boot is safe.
func EnsureSchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	entries, err := schemasql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := schemasql.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}

// Command migrate applies every migrations/*.sql file, in lexical
// order, against POSTGRES_CONNECTION_STRING.
package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/aegisflow/aegis/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("AEGIS_ENV"))

	connStr := os.Getenv("POSTGRES_CONNECTION_STRING")
	if connStr == "" {
		logger.Fatal("POSTGRES_CONNECTION_STRING not set")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		logger.Fatal("unable to connect to database", logger.FieldError, err)
	}
	defer conn.Close(ctx)

	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		logger.Fatal("failed to list migrations", logger.FieldError, err)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal("failed to read migration", "file", file, logger.FieldError, err)
		}

		if _, err := conn.Exec(ctx, string(content)); err != nil {
			// Migrations are written to be idempotent (CREATE TABLE IF NOT
			// EXISTS, etc.); log and continue rather than abort the batch
			// on a statement that simply already applied.
			logger.Warn("migration statement failed", "file", file, logger.FieldError, err)
			continue
		}
		logger.Info("applied migration", "file", file)
	}
	logger.Info("migration run complete", logger.FieldCount, len(files))
}

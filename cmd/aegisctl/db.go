package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/database"
	"github.com/aegisflow/aegis/pkg/logger"
)

// openPool loads Config, initializes logging, and opens a connection
// pool against it — the common prelude the incidents and consensus
// subcommands share before touching Postgres (serve opens its own pool).
// The caller is responsible for pool.Close().
func openPool(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

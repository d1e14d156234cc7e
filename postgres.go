package dbprobe

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	db, err := openDatabase("postgres", cfg.DSN)
	if err != nil {
		return nil, &ConnectionError{Reason: ReasonMalformed, Err: fmt.Errorf("open postgres connection: %w", err)}
	}
	return &PostgresConnector{baseConnector{cfg: EnginePostgreSQL, db: db}}, nil
}

func (c *PostgresConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classifyPingError(err)
	}
	return nil
}

func (c *PostgresConnector) Query(ctx context.Context, sqlText string) QueryResult {
	return runQuery(ctx, c.db, sqlText)
}

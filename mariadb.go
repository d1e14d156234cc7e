package dbprobe

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

type MariaDBConnector struct {
	baseConnector
}

func newMariaDBConnector(cfg ConnectionConfig) (*MariaDBConnector, error) {
	db, err := openDatabase("mysql", cfg.DSN)
	if err != nil {
		return nil, &ConnectionError{Reason: ReasonMalformed, Err: fmt.Errorf("open mariadb connection: %w", err)}
	}
	return &MariaDBConnector{baseConnector{cfg: EngineMariaDB, db: db}}, nil
}

func (c *MariaDBConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classifyPingError(err)
	}
	return nil
}

// Query probing is gated to PostgreSQL; MariaDB connections support
// test-connection only.
func (c *MariaDBConnector) Query(ctx context.Context, sqlText string) QueryResult {
	return QueryResult{
		Success: false,
		Message: UnsupportedEngineMessage(EngineMariaDB),
		Error:   "unsupported engine",
	}
}

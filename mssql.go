package dbprobe

import (
	"context"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLConnector struct {
	baseConnector
}

func newMSSQLConnector(cfg ConnectionConfig) (*MSSQLConnector, error) {
	db, err := openDatabase("sqlserver", cfg.DSN)
	if err != nil {
		return nil, &ConnectionError{Reason: ReasonMalformed, Err: fmt.Errorf("open mssql connection: %w", err)}
	}
	return &MSSQLConnector{baseConnector{cfg: EngineMSSQL, db: db}}, nil
}

func (c *MSSQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classifyPingError(err)
	}
	return nil
}

func (c *MSSQLConnector) Query(ctx context.Context, sqlText string) QueryResult {
	return QueryResult{
		Success: false,
		Message: UnsupportedEngineMessage(EngineMSSQL),
		Error:   "unsupported engine",
	}
}

package dbprobe

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

var errMongoUnsupported = errors.New("no MongoDB driver available")

// Connector is a short-lived, read-intent handle onto one database. Open per
// probe, close after use.
type Connector interface {
	TestConnection(ctx context.Context) error

	Query(ctx context.Context, sqlText string) QueryResult

	Close() error
}

type baseConnector struct {
	cfg Engine
	db  *sql.DB
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Open dispatches on the resolved engine. MongoDB has no driver in this
// build and resolves to an unsupportedEngine ConnectionError.
func Open(cfg ConnectionConfig) (Connector, error) {
	switch cfg.Engine {
	case EnginePostgreSQL:
		return newPostgresConnector(cfg)
	case EngineMariaDB:
		return newMariaDBConnector(cfg)
	case EngineMSSQL:
		return newMSSQLConnector(cfg)
	case EngineMongoDB:
		return nil, &ConnectionError{Reason: ReasonUnsupportedEngine, Err: errMongoUnsupported}
	default:
		return nil, &ConnectionError{Reason: ReasonUnsupportedEngine}
	}
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// classifyPingError maps driver ping failures onto ConnectionError reasons.
// Driver errors are not typed consistently across engines, so this matches
// on the known auth-failure phrasings.
func classifyPingError(err error) error {
	msg := strings.ToLower(err.Error())
	authMarkers := []string{
		"password authentication failed",
		"authentication failed",
		"access denied",
		"login failed",
		"28p01",
	}
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return &ConnectionError{Reason: ReasonAuthFailed, Err: err}
		}
	}
	return &ConnectionError{Reason: ReasonUnreachable, Err: err}
}

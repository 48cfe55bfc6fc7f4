package sqlgateway

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata/internal/retry"
)

const (
	DefaultConnectionAttempts    = 30
	DefaultConnectionTimeout     = 60 * time.Second
	DefaultConnectionAttemptStep = 500 * time.Millisecond
)

type ConnectOptions struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	RetryStep   time.Duration
}

func NewDefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts: DefaultConnectionAttempts,
		MaxTimeout:  DefaultConnectionTimeout,
		RetryStep:   DefaultConnectionAttemptStep,
	}
}

// RetryingConnector takes a dedicated connection out of the pool, waiting
// for the database to come up. Session scoped advisory locks and the
// migration transactions all run on that one connection.
type RetryingConnector struct {
	options *ConnectOptions
	db      *sqlx.DB
}

func NewRetryingConnector(db *sqlx.DB, options *ConnectOptions) *RetryingConnector {
	if options == nil {
		options = NewDefaultConnectOptions()
	}

	return &RetryingConnector{db: db, options: options}
}

func (c *RetryingConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.MaxTimeout)
	defer cancel()

	var conn *sqlx.Conn
	err := retry.Incremental(ctx, c.options.RetryStep, c.options.MaxAttempts, func(attempt int) error {
		candidate, err := c.db.Connx(ctx)
		if err != nil {
			return retry.Error(errors.Wrap(err, "could not establish DB connection"), attempt)
		}

		if err := candidate.PingContext(ctx); err != nil {
			_ = candidate.Close()
			return retry.Error(errors.Wrap(err, "db ping failed"), attempt)
		}

		conn = candidate
		return nil
	})

	if err != nil {
		return nil, err
	}

	return conn, nil
}

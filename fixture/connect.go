package fixture

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/katasec/mssql-fixture/config"
	"github.com/xo/dburl"
)

// pingTimeout bounds each connection attempt
const pingTimeout = 10 * time.Second

// OpenFunc opens a database handle for a connection URL without connecting
type OpenFunc func(urlstr string) (*sql.DB, error)

// Connector opens SQL Server connections, retrying transient failures with backoff
type Connector struct {
	attempts        int
	initialInterval time.Duration
	maxInterval     time.Duration
	open            OpenFunc
	backoff         *BackoffManager
}

// NewConnector returns a Connector using the retry settings in cfg
func NewConnector(cfg *config.Config) (*Connector, error) {
	initial, max, err := cfg.Backoff()
	if err != nil {
		return nil, err
	}
	return &Connector{
		attempts:        cfg.Connect.Attempts,
		initialInterval: initial,
		maxInterval:     max,
		open:            dburl.Open,
	}, nil
}

// WithOpener replaces the function used to open database handles
func (c *Connector) WithOpener(open OpenFunc) *Connector {
	c.open = open
	return c
}

// Open returns a handle to the database at urlstr once it answers a ping.
// The returned pool holds at most one connection. The backoff is shared across
// calls and reset after every successful connection.
func (c *Connector) Open(ctx context.Context, module string, urlstr string) (*sql.DB, error) {
	target := redact(urlstr)
	if c.backoff == nil {
		c.backoff = NewBackoffManager(c.initialInterval, c.maxInterval)
	}
	backoff := c.backoff

	for attempt := 1; ; attempt++ {
		db, err := c.open(urlstr)
		if err != nil {
			return nil, wrapAs(KindConflict, "open "+target, err)
		}
		db.SetMaxOpenConns(1)

		err = ping(ctx, db)
		if err == nil {
			backoff.ResetInterval()
			log.Printf("[%s] Connected to %s", module, target)
			return db, nil
		}
		db.Close()

		if !IsRetryable(err) || attempt >= c.attempts {
			return nil, wrap(fmt.Sprintf("connect to %s after %d attempt(s)", target, attempt), err)
		}

		log.Printf("[%s] Connection attempt %d to %s failed: %v. Retrying in %s", module, attempt, target, err, backoff.GetInterval())
		if err := backoff.Wait(ctx); err != nil {
			return nil, wrapAs(KindConnection, "connect to "+target, err)
		}
	}
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// redact hides the password in a connection URL so it can be logged
func redact(urlstr string) string {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

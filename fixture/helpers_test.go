package fixture

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/katasec/mssql-fixture/config"
	"github.com/katasec/mssql-fixture/events"
	"github.com/stretchr/testify/require"
)

// smallTexts keeps generated descriptions short in tests
var smallTexts = [3]int{64, 256, 1024}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Report(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) bySubject(subject string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}

func testConfig(t *testing.T, dataSize string, src string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(src, dataSize)
	require.NoError(t, err)
	return cfg
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return db, mock
}

// sequenceOpener hands out dbs in order, one per Open call
func sequenceOpener(dbs ...*sql.DB) OpenFunc {
	var mu sync.Mutex
	next := 0
	return func(urlstr string) (*sql.DB, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(dbs) {
			return nil, fmt.Errorf("unexpected open of %s", redact(urlstr))
		}
		db := dbs[next]
		next++
		return db, nil
	}
}

func testConnector(open OpenFunc) *Connector {
	return &Connector{
		attempts:        3,
		initialInterval: time.Millisecond,
		maxInterval:     2 * time.Millisecond,
		open:            open,
	}
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

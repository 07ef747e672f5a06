package fixture

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/katasec/mssql-fixture/config"
	"github.com/katasec/mssql-fixture/events"
	"github.com/katasec/mssql-fixture/topics"
	"github.com/samber/lo"
)

// createLoginStmt creates the application login unless it already exists.
// @p1 is the login name, @p2 its password.
const createLoginStmt = `
IF NOT EXISTS (SELECT 1 FROM sys.server_principals WHERE name = @p1)
BEGIN
    DECLARE @stmt NVARCHAR(MAX) = N'CREATE LOGIN ' + QUOTENAME(@p1) + N' WITH PASSWORD = ' + QUOTENAME(@p2, N'''');
    EXEC (@stmt);
END`

// grantRoleStmt adds login @p1 to server role @p2
const grantRoleStmt = `
DECLARE @stmt NVARCHAR(MAX) = N'ALTER SERVER ROLE ' + QUOTENAME(@p2) + N' ADD MEMBER ' + QUOTENAME(@p1);
EXEC (@stmt);`

// TableLoad reports the rows inserted into one table
type TableLoad struct {
	Name string
	Rows int64
}

// LoadResult summarises a completed load
type LoadResult struct {
	RunID      string
	Tier       string
	Database   string
	Tables     []TableLoad
	StartedAt  time.Time
	FinishedAt time.Time
}

// Loader provisions the fixture database and fills it with synthetic customers
type Loader struct {
	cfg       *config.Config
	connector *Connector
	generator *Generator
	writer    RowWriter
	state     *StateManager
	reporter  events.Reporter
}

// NewLoader creates a Loader. A nil reporter discards progress events.
func NewLoader(cfg *config.Config, connector *Connector, generator *Generator, writer RowWriter, reporter events.Reporter) *Loader {
	if reporter == nil {
		reporter = events.Discard
	}
	return &Loader{
		cfg:       cfg,
		connector: connector,
		generator: generator,
		writer:    writer,
		state:     NewStateManager(),
		reporter:  reporter,
	}
}

// Load drops and recreates the fixture database, then creates and populates every table
// in one transaction. Any failure rolls the population back.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	result := &LoadResult{
		RunID:     uuid.NewString(),
		Tier:      l.cfg.Tier.String(),
		Database:  l.cfg.DatabaseName,
		StartedAt: time.Now().UTC(),
	}
	l.report(result.RunID, topics.Load.Started, "", 0, 0,
		fmt.Sprintf("Loading %s tier: %d table(s) of %d record(s) into %s",
			result.Tier, l.cfg.Tier.Tables(), l.cfg.Tier.Records(), result.Database))

	if err := l.provisionLogin(ctx); err != nil {
		return nil, err
	}

	db, err := l.connector.Open(ctx, "Loader", l.cfg.AppURL(""))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, wrap("acquire connection", err)
	}
	defer conn.Close()

	if err := l.resetDatabase(ctx, conn); err != nil {
		return nil, err
	}

	if result.Tables, err = l.populate(ctx, conn, result); err != nil {
		return nil, err
	}

	result.FinishedAt = time.Now().UTC()
	l.report(result.RunID, topics.Load.Completed, "", 0, totalRows(result.Tables),
		fmt.Sprintf("Loaded %d row(s) across %d table(s) in %s",
			totalRows(result.Tables), len(result.Tables), result.FinishedAt.Sub(result.StartedAt).Truncate(time.Millisecond)))
	return result, nil
}

// provisionLogin creates the application login as the administrative login
func (l *Loader) provisionLogin(ctx context.Context) error {
	admin, err := l.connector.Open(ctx, "Loader", l.cfg.AdminURL())
	if err != nil {
		return err
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, createLoginStmt, l.cfg.App.Username, l.cfg.App.Password); err != nil {
		return wrap("create login "+l.cfg.App.Username, err)
	}
	if _, err := admin.ExecContext(ctx, grantRoleStmt, l.cfg.App.Username, l.cfg.App.Role); err != nil {
		return wrap(fmt.Sprintf("add %s to server role %s", l.cfg.App.Username, l.cfg.App.Role), err)
	}

	log.Printf("[Loader] Login %s is a member of %s", l.cfg.App.Username, l.cfg.App.Role)
	return nil
}

// resetDatabase drops and recreates the fixture database and switches conn to it
func (l *Loader) resetDatabase(ctx context.Context, conn *sql.Conn) error {
	name := quoteIdent(l.cfg.DatabaseName)
	for _, stmt := range []string{
		"DROP DATABASE IF EXISTS " + name,
		"CREATE DATABASE " + name,
		"USE " + name,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return wrap(stmt, err)
		}
	}
	log.Printf("[Loader] Recreated database %s", l.cfg.DatabaseName)
	return nil
}

// populate creates and fills every table and records the fixture state, committing once
func (l *Loader) populate(ctx context.Context, conn *sql.Conn, result *LoadResult) (tables []TableLoad, err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[Loader] Rollback failed: %v", rbErr)
			}
		}
	}()

	plan := PlanBatches(l.cfg.Tier.Records(), l.cfg.BatchSize, l.cfg.InsertRemainder)
	if skipped := l.cfg.Tier.Records() - PlannedRows(plan); skipped > 0 {
		log.Printf("[Loader] %d record(s) per table do not fill a batch of %d and will not be inserted", skipped, l.cfg.BatchSize)
	}

	for i := 0; i < l.cfg.Tier.Tables(); i++ {
		table := TableName(i)
		l.report(result.RunID, topics.Load.Table, table, 0, 0, fmt.Sprintf("Adding data to table %s...", table))

		if _, err = tx.ExecContext(ctx, createTableStmt(table)); err != nil {
			return nil, wrap("create table "+table, err)
		}

		rows, err := l.insertRows(ctx, tx, table, plan, result.RunID)
		if err != nil {
			return nil, err
		}
		tables = append(tables, TableLoad{Name: table, Rows: rows})
	}

	if err = l.state.InitializeStateTable(ctx, tx); err != nil {
		return nil, wrap("initialize fixture state", err)
	}
	err = l.state.SaveState(ctx, tx, State{
		RunID:        result.RunID,
		Tier:         result.Tier,
		TableCount:   l.cfg.Tier.Tables(),
		RecordCount:  l.cfg.Tier.Records(),
		RowsPerTable: PlannedRows(plan),
	})
	if err != nil {
		return nil, wrap("save fixture state", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, wrap("commit", err)
	}
	return tables, nil
}

// insertRows writes every planned batch into table
func (l *Loader) insertRows(ctx context.Context, tx Tx, table string, plan []Batch, runID string) (int64, error) {
	log.Printf("[Loader] Inserting %d lines", l.cfg.Tier.Records())

	var inserted int64
	for _, batch := range plan {
		rows := l.generator.Batch(batch.Size, batch.Offset)
		n, err := l.writer.WriteBatch(ctx, tx, table, rows)
		if err != nil {
			return inserted, wrap(fmt.Sprintf("insert batch #%d into %s", batch.Index, table), err)
		}
		inserted += n
		l.report(runID, topics.Load.Batch, table, batch.Index, n,
			fmt.Sprintf("Inserting batch #%d of %d documents.", batch.Index, batch.Size))
	}
	return inserted, nil
}

func (l *Loader) report(runID, subject, table string, batch int, rows int64, msg string) {
	l.reporter.Report(events.Event{
		RunID:   runID,
		Subject: subject,
		Tier:    l.cfg.Tier.String(),
		Table:   table,
		Batch:   batch,
		Rows:    rows,
		Message: msg,
		Time:    time.Now().UTC(),
	})
}

// createTableStmt returns the DDL for a customers table
func createTableStmt(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    id INT IDENTITY(1,1),
    name VARCHAR(255),
    age INT,
    description VARCHAR(MAX),
    PRIMARY KEY (id)
)`, quoteIdent(table))
}

func totalRows(tables []TableLoad) int64 {
	return lo.SumBy(tables, func(t TableLoad) int64 { return t.Rows })
}

package fixture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/katasec/mssql-fixture/config"
	"github.com/samber/lo"
)

// ErrVerification is returned when the fixture database does not look like a completed load
var ErrVerification = errors.New("fixture verification failed")

// expectedColumns are the columns of every customers table, in order
var expectedColumns = []string{"id", "name", "age", "description"}

// TableReport describes what was found in one customers table
type TableReport struct {
	Name     string
	Columns  []string
	Rows     int64
	Expected int64
	MaxAge   int
	Problems []string
}

// VerifyReport is the outcome of a verification pass
type VerifyReport struct {
	Tables []TableReport
}

// Problems returns every problem found, prefixed with its table
func (r *VerifyReport) Problems() []string {
	return lo.FlatMap(r.Tables, func(t TableReport, _ int) []string {
		return lo.Map(t.Problems, func(p string, _ int) string { return t.Name + ": " + p })
	})
}

// Verifier checks that a load produced the expected tables and rows
type Verifier struct {
	cfg       *config.Config
	connector *Connector
	state     *StateManager
}

// NewVerifier creates a Verifier
func NewVerifier(cfg *config.Config, connector *Connector) *Verifier {
	return &Verifier{
		cfg:       cfg,
		connector: connector,
		state:     NewStateManager(),
	}
}

// Verify checks every customers table. When allowRemovals is set, tables may hold fewer rows
// than planned, as they do after a remove pass.
func (v *Verifier) Verify(ctx context.Context, allowRemovals bool) (*VerifyReport, error) {
	db, err := v.connector.Open(ctx, "Verifier", v.cfg.AppURL(v.cfg.DatabaseName))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if _, err := v.state.CheckState(ctx, db, "Verifier", v.cfg.Tier.Tables()); err != nil {
		return nil, err
	}

	expected := int64(PlannedRows(PlanBatches(v.cfg.Tier.Records(), v.cfg.BatchSize, v.cfg.InsertRemainder)))
	report := &VerifyReport{}

	for i := 0; i < v.cfg.Tier.Tables(); i++ {
		t, err := v.verifyTable(ctx, db, TableName(i), expected, allowRemovals)
		if err != nil {
			return nil, err
		}
		report.Tables = append(report.Tables, t)
	}

	if problems := report.Problems(); len(problems) > 0 {
		return report, fmt.Errorf("%w: %s", ErrVerification, strings.Join(problems, "; "))
	}
	log.Printf("[Verifier] %d table(s) verified with %d row(s) each", len(report.Tables), expected)
	return report, nil
}

func (v *Verifier) verifyTable(ctx context.Context, db *sql.DB, table string, expected int64, allowRemovals bool) (TableReport, error) {
	t := TableReport{Name: table, Expected: expected}

	columns, err := fetchColumnNames(ctx, db, table)
	if err != nil {
		return t, wrap("fetch columns of "+table, err)
	}
	t.Columns = columns
	if len(columns) == 0 {
		t.Problems = append(t.Problems, "table does not exist")
		return t, nil
	}
	if !lo.Every(lo.Map(columns, func(c string, _ int) string { return strings.ToLower(c) }), expectedColumns) ||
		len(columns) != len(expectedColumns) {
		t.Problems = append(t.Problems, fmt.Sprintf("columns %v, want %v", columns, expectedColumns))
	}

	query := fmt.Sprintf("SELECT COUNT_BIG(*), ISNULL(MAX(age), 0) FROM %s", quoteIdent(table))
	if err := db.QueryRowContext(ctx, query).Scan(&t.Rows, &t.MaxAge); err != nil {
		return t, wrap("count rows of "+table, err)
	}

	switch {
	case t.Rows > expected:
		t.Problems = append(t.Problems, fmt.Sprintf("%d rows, want %d", t.Rows, expected))
	case t.Rows < expected && !allowRemovals:
		t.Problems = append(t.Problems, fmt.Sprintf("%d rows, want %d", t.Rows, expected))
	}
	if t.MaxAge >= v.cfg.BatchSize {
		t.Problems = append(t.Problems, fmt.Sprintf("age %d is outside a batch of %d", t.MaxAge, v.cfg.BatchSize))
	}
	return t, nil
}

// fetchColumnNames fetches column names for a specified table
func fetchColumnNames(ctx context.Context, db *sql.DB, tableName string) ([]string, error) {
	query := `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @tableName ORDER BY ORDINAL_POSITION`
	rows, err := db.QueryContext(ctx, query, sql.Named("tableName", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			return nil, err
		}
		columns = append(columns, columnName)
	}
	return columns, rows.Err()
}

package fixture

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/katasec/mssql-fixture/config"
)

// SQL Server limits for a single parameterised INSERT ... VALUES statement
const (
	maxParams        = 2100
	maxValuesRows    = 1000
	columnsPerRow    = 3
	rowsPerStatement = min(maxValuesRows, (maxParams-1)/columnsPerRow)
)

var rowColumns = []string{"name", "age", "description"}

// Tx is the part of *sql.Tx batches are written through
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// RowWriter writes one batch of rows into a table
type RowWriter interface {
	WriteBatch(ctx context.Context, tx Tx, table string, rows []Row) (int64, error)
}

// NewRowWriter returns the writer for an insert mode
func NewRowWriter(mode string) (RowWriter, error) {
	switch strings.ToLower(mode) {
	case config.InsertModeBulk:
		return BulkWriter{}, nil
	case config.InsertModeValues:
		return ValuesWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown insert mode: %s", mode)
	}
}

// BulkWriter streams a batch with the TDS bulk copy protocol as one statement
type BulkWriter struct{}

// WriteBatch bulk copies rows into table
func (BulkWriter) WriteBatch(ctx context.Context, tx Tx, table string, rows []Row) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, rowColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bulk copy into %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Name, row.Age, row.Description); err != nil {
			return 0, fmt.Errorf("failed to buffer row for %s: %w", table, err)
		}
	}

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to flush bulk copy into %s: %w", table, err)
	}
	return res.RowsAffected()
}

// ValuesWriter inserts a batch with multi-row INSERT statements.
// Batches larger than SQL Server's parameter limit are split across statements.
type ValuesWriter struct{}

// WriteBatch inserts rows into table
func (ValuesWriter) WriteBatch(ctx context.Context, tx Tx, table string, rows []Row) (int64, error) {
	var inserted int64
	for start := 0; start < len(rows); start += rowsPerStatement {
		chunk := rows[start:min(start+rowsPerStatement, len(rows))]

		args := make([]any, 0, len(chunk)*columnsPerRow)
		for _, row := range chunk {
			args = append(args, row.Name, row.Age, row.Description)
		}

		res, err := tx.ExecContext(ctx, insertValuesStmt(table, len(chunk)), args...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

// insertValuesStmt builds INSERT INTO table (...) VALUES (@p1, @p2, @p3), ... for n rows
func insertValuesStmt(table string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(table), strings.Join(rowColumns, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		p := i*columnsPerRow + 1
		fmt.Fprintf(&b, "(@p%d, @p%d, @p%d)", p, p+1, p+2)
	}
	return b.String()
}

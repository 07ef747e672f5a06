package fixture

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsOf(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{Name: CandidateName(i + 1), Age: i, Description: "text"}
	}
	return rows
}

func TestInsertValuesStmt(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO [customers_0] (name, age, description) VALUES (@p1, @p2, @p3), (@p4, @p5, @p6)",
		insertValuesStmt("customers_0", 2))
}

func TestValuesWriterSplitsAtParameterLimit(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	rows := rowsOf(1000)

	mock.ExpectBegin()
	mock.ExpectExec(insertValuesStmt("customers_1", rowsPerStatement)).
		WillReturnResult(sqlmock.NewResult(0, int64(rowsPerStatement)))
	mock.ExpectExec(insertValuesStmt("customers_1", 1000-rowsPerStatement)).
		WillReturnResult(sqlmock.NewResult(0, int64(1000-rowsPerStatement)))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)

	n, err := ValuesWriter{}.WriteBatch(context.Background(), tx, "customers_1", rows)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1000), n)
	assert.Equal(t, 699, rowsPerStatement)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValuesWriterPassesRowArguments(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(insertValuesStmt("customers_0", 2)).
		WithArgs("user_1", 0, "text", "user_2", 1, "text").
		WillReturnResult(sqlmock.NewResult(0, 2))

	tx, err := db.Begin()
	require.NoError(t, err)

	n, err := ValuesWriter{}.WriteBatch(context.Background(), tx, "customers_0", rowsOf(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkWriterBuffersRowsThenFlushes(t *testing.T) {
	db, mock := newMock(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(mssql.CopyIn("customers_2", mssql.BulkOptions{}, "name", "age", "description"))
	prep.ExpectExec().WithArgs("user_1", 0, "text").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs("user_2", 1, "text").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))

	tx, err := db.Begin()
	require.NoError(t, err)

	n, err := BulkWriter{}.WriteBatch(context.Background(), tx, "customers_2", rowsOf(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRowWriter(t *testing.T) {
	w, err := NewRowWriter("bulk")
	require.NoError(t, err)
	assert.IsType(t, BulkWriter{}, w)

	w, err = NewRowWriter("VALUES")
	require.NoError(t, err)
	assert.IsType(t, ValuesWriter{}, w)

	_, err = NewRowWriter("csv")
	assert.Error(t, err)
}

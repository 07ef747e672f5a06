package fixture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Default state table name
const defaultStateTableName = "fixture_state"

// fixtureKey identifies the customers fixture in the state table
const fixtureKey = "customers"

// ErrNoState is returned when no load has been recorded
var ErrNoState = errors.New("no fixture state recorded")

// invalidObjectName is raised when the state table has never been created
const invalidObjectName = 208

// ErrStateMismatch is returned when the recorded load does not match the configured tier
var ErrStateMismatch = errors.New("fixture state does not match configuration")

// State describes the last completed load
type State struct {
	RunID        string
	Tier         string
	TableCount   int
	RecordCount  int
	RowsPerTable int
	UpdatedAt    time.Time
}

// ExecQuerier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StateManager persists the shape of the last load inside the fixture database
type StateManager struct {
	stateTable string
}

// NewStateManager initializes a new StateManager
func NewStateManager(stateTableName ...string) *StateManager {
	// Use provided state table name if supplied; otherwise, use default
	table := defaultStateTableName
	if len(stateTableName) > 0 && stateTableName[0] != "" {
		table = stateTableName[0]
	}

	return &StateManager{stateTable: table}
}

// InitializeStateTable creates the state table if it does not exist
func (s *StateManager) InitializeStateTable(ctx context.Context, db ExecQuerier) error {
	_, err := db.ExecContext(ctx, s.createTableStmt())
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.stateTable, err)
	}
	return nil
}

// SaveState records st as the fixture's current state
func (s *StateManager) SaveState(ctx context.Context, db ExecQuerier, st State) error {
	_, err := db.ExecContext(ctx, s.mergeStmt(),
		sql.Named("fixture", fixtureKey),
		sql.Named("runID", st.RunID),
		sql.Named("tier", st.Tier),
		sql.Named("tableCount", st.TableCount),
		sql.Named("recordCount", st.RecordCount),
		sql.Named("rowsPerTable", st.RowsPerTable),
	)
	if err != nil {
		return fmt.Errorf("failed to save fixture state: %w", err)
	}

	log.Printf("[State] Saved state for run %s: %d table(s) of %d row(s)", st.RunID, st.TableCount, st.RowsPerTable)
	return nil
}

// LoadState returns the recorded state, or ErrNoState when nothing was recorded.
// A database without the state table, e.g. one loaded by another tool, has no state either.
func (s *StateManager) LoadState(ctx context.Context, db ExecQuerier) (State, error) {
	var st State
	err := db.QueryRowContext(ctx, s.selectStmt(), sql.Named("fixture", fixtureKey)).
		Scan(&st.RunID, &st.Tier, &st.TableCount, &st.RecordCount, &st.RowsPerTable, &st.UpdatedAt)
	if number, ok := sqlErrorNumber(err); ok && number == invalidObjectName {
		return st, ErrNoState
	}
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrNoState
	} else if err != nil {
		return st, fmt.Errorf("failed to load fixture state: %w", err)
	}
	return st, nil
}

// CheckState compares the recorded state with the expected table count.
// A missing state is logged and tolerated.
func (s *StateManager) CheckState(ctx context.Context, db ExecQuerier, module string, tables int) (State, error) {
	st, err := s.LoadState(ctx, db)
	if errors.Is(err, ErrNoState) {
		log.Printf("[%s] No fixture state recorded; assuming %d table(s)", module, tables)
		return st, nil
	} else if err != nil {
		return st, wrap("load fixture state", err)
	}

	if st.TableCount != tables {
		return st, wrapAs(KindConflict, "check fixture state",
			fmt.Errorf("%w: run %s loaded %d table(s) for tier %s, configured for %d",
				ErrStateMismatch, st.RunID, st.TableCount, st.Tier, tables))
	}
	return st, nil
}

func (s *StateManager) createTableStmt() string {
	return fmt.Sprintf(`
    IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s')
    BEGIN
        CREATE TABLE %s (
            fixture NVARCHAR(128) PRIMARY KEY,
            run_id NVARCHAR(64) NOT NULL,
            tier NVARCHAR(16) NOT NULL,
            table_count INT NOT NULL,
            record_count INT NOT NULL,
            rows_per_table INT NOT NULL,
            updated_at DATETIME2 DEFAULT SYSUTCDATETIME()
        );
    END`, s.stateTable, quoteIdent(s.stateTable))
}

func (s *StateManager) mergeStmt() string {
	return fmt.Sprintf(`
    MERGE INTO %s AS target
    USING (VALUES (@fixture, @runID, @tier, @tableCount, @recordCount, @rowsPerTable))
        AS source (fixture, run_id, tier, table_count, record_count, rows_per_table)
    ON target.fixture = source.fixture
    WHEN MATCHED THEN
        UPDATE SET run_id = source.run_id, tier = source.tier, table_count = source.table_count,
            record_count = source.record_count, rows_per_table = source.rows_per_table,
            updated_at = SYSUTCDATETIME()
    WHEN NOT MATCHED THEN
        INSERT (fixture, run_id, tier, table_count, record_count, rows_per_table, updated_at)
        VALUES (source.fixture, source.run_id, source.tier, source.table_count, source.record_count,
            source.rows_per_table, SYSUTCDATETIME());`, quoteIdent(s.stateTable))
}

func (s *StateManager) selectStmt() string {
	return fmt.Sprintf(`SELECT run_id, tier, table_count, record_count, rows_per_table, updated_at
    FROM %s WHERE fixture = @fixture`, quoteIdent(s.stateTable))
}

package fixture

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/katasec/mssql-fixture/config"
	"github.com/katasec/mssql-fixture/events"
	"github.com/katasec/mssql-fixture/topics"
	"github.com/samber/lo"
)

// TableRemoval reports the delete conditions issued against one table
type TableRemoval struct {
	Name       string
	Candidates []string
	Deleted    int64
}

// RemoveResult summarises a completed remove pass
type RemoveResult struct {
	RunID      string
	Tier       string
	Database   string
	Tables     []TableRemoval
	StartedAt  time.Time
	FinishedAt time.Time
}

// Remover deletes a small random sample of rows from every customers table
type Remover struct {
	cfg       *config.Config
	connector *Connector
	faker     *gofakeit.Faker
	state     *StateManager
	reporter  events.Reporter
}

// NewRemover creates a Remover drawing samples from faker. A nil reporter discards progress events.
func NewRemover(cfg *config.Config, connector *Connector, faker *gofakeit.Faker, reporter events.Reporter) *Remover {
	if reporter == nil {
		reporter = events.Discard
	}
	return &Remover{
		cfg:       cfg,
		connector: connector,
		faker:     faker,
		state:     NewStateManager(),
		reporter:  reporter,
	}
}

// Remove deletes rows named user_<n> for a sample of n from every table, committing once.
// Names are only matched exactly, so rows generated with fake names are never deleted.
func (r *Remover) Remove(ctx context.Context) (result *RemoveResult, err error) {
	result = &RemoveResult{
		RunID:     uuid.NewString(),
		Tier:      r.cfg.Tier.String(),
		Database:  r.cfg.DatabaseName,
		StartedAt: time.Now().UTC(),
	}

	db, err := r.connector.Open(ctx, "Remover", r.cfg.AppURL(r.cfg.DatabaseName))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, wrap("acquire connection", err)
	}
	defer conn.Close()

	if _, err := r.state.CheckState(ctx, conn, "Remover", r.cfg.Tier.Tables()); err != nil {
		return nil, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[Remover] Rollback failed: %v", rbErr)
			}
		}
	}()

	for i := 0; i < r.cfg.Tier.Tables(); i++ {
		removal, err := r.removeFrom(ctx, tx, result.RunID, TableName(i))
		if err != nil {
			return nil, err
		}
		result.Tables = append(result.Tables, removal)
		r.report(result.RunID, topics.Remove.Table, removal.Name, removal.Deleted,
			fmt.Sprintf("Deleted %d of %d candidate(s) from %s", removal.Deleted, len(removal.Candidates), removal.Name))
	}

	if err = tx.Commit(); err != nil {
		return nil, wrap("commit", err)
	}

	result.FinishedAt = time.Now().UTC()
	deleted := lo.SumBy(result.Tables, func(t TableRemoval) int64 { return t.Deleted })
	r.report(result.RunID, topics.Remove.Completed, "", deleted,
		fmt.Sprintf("Deleted %d row(s) across %d table(s)", deleted, len(result.Tables)))
	return result, nil
}

// removeFrom issues one delete per sampled candidate name
func (r *Remover) removeFrom(ctx context.Context, tx Tx, runID, table string) (TableRemoval, error) {
	removal := TableRemoval{
		Name:       table,
		Candidates: r.Candidates(),
	}
	r.report(runID, topics.Remove.Table, table, 0, fmt.Sprintf("Working on table %s...", table))

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = @p1", quoteIdent(table)))
	if err != nil {
		return removal, wrap("prepare delete from "+table, err)
	}
	defer stmt.Close()

	for _, name := range removal.Candidates {
		res, err := stmt.ExecContext(ctx, name)
		if err != nil {
			return removal, wrap(fmt.Sprintf("delete %s from %s", name, table), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removal, wrap("rows affected", err)
		}
		removal.Deleted += n
	}
	return removal, nil
}

// Candidates samples distinct names user_<n> with n drawn uniformly from the configured range
func (r *Remover) Candidates() []string {
	start, end := r.cfg.Remove.RangeStart, r.cfg.Remove.RangeEnd
	picks := r.faker.Rand.Perm(end - start)[:*r.cfg.Remove.Count]
	return lo.Map(picks, func(p int, _ int) string {
		return CandidateName(start + p)
	})
}

func (r *Remover) report(runID, subject, table string, rows int64, msg string) {
	r.reporter.Report(events.Event{
		RunID:   runID,
		Subject: subject,
		Tier:    r.cfg.Tier.String(),
		Table:   table,
		Rows:    rows,
		Message: msg,
		Time:    time.Now().UTC(),
	})
}

// Package sqlite implements the latch composite store on SQLite through grove.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of the composite latch store.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("latch/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("latch/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ──────────────────────────────────────────────────
// Account operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if _, err := s.sdb.NewInsert(accountToModel(a)).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).Where("id = ?", accountID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("account %s: %w", accountID, account.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get account: %w", err)
	}
	return accountFromModel(m), nil
}

func (s *Store) ListAccounts(ctx context.Context, filter *account.ListFilter) ([]*account.Account, error) {
	var models []accountModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at ASC")
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("latch: list accounts: %w", err)
	}
	result := make([]*account.Account, len(models))
	for i := range models {
		result[i] = accountFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*accountModel)(nil)).
		Where("id = ?", accountID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete account: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Rule operations
// ──────────────────────────────────────────────────

// CreateRule allocates the rule ID from the account counter and inserts the
// rule in one transaction.
func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("latch: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is intentional

	am := new(accountModel)
	if err := tx.NewSelect(am).Where("id = ?", r.AccountID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("account %s: %w", r.AccountID, account.ErrNotFound)
		}
		return fmt.Errorf("latch: create rule: %w", err)
	}

	now := time.Now().UTC()
	ruleID, err := am.allocateRuleID(now)
	if err != nil {
		return fmt.Errorf("latch: create rule: %w", err)
	}
	r.ID = ruleID
	r.CreatedAt = now
	r.UpdatedAt = now
	if _, err := tx.NewUpdate(am).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("latch: advance rule counter: %w", err)
	}

	m, err := ruleToModel(r)
	if err != nil {
		return fmt.Errorf("latch: create rule: %w", err)
	}
	if _, err := tx.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("latch: commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, accountID id.AccountID, ruleID uint32) (*rule.Rule, error) {
	m := new(ruleModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("rule_id = ?", int64(ruleID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get rule: %w", err)
	}
	r, err := ruleFromModel(m)
	if err != nil {
		return nil, fmt.Errorf("latch: get rule: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	r.UpdatedAt = time.Now().UTC()
	m, err := ruleToModel(r)
	if err != nil {
		return fmt.Errorf("latch: update rule: %w", err)
	}
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: update rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s/%d: %w", r.AccountID, r.ID, rule.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, accountID id.AccountID, ruleID uint32) error {
	res, err := s.sdb.NewDelete((*ruleModel)(nil)).
		Where("account_id = ?", accountID.String()).
		Where("rule_id = ?", int64(ruleID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	if filter == nil {
		return nil, fmt.Errorf("latch: list rules: account filter required")
	}
	var models []ruleModel
	q := s.sdb.NewSelect(&models).
		Where("account_id = ?", filter.AccountID.String()).
		OrderExpr("rule_id ASC")
	if filter.Type != nil {
		q = q.Where("type_kind = ?", string(filter.Type.Kind)).
			Where("type_target = ?", filter.Type.Target)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("latch: list rules: %w", err)
	}
	result := make([]*rule.Rule, len(models))
	for i := range models {
		r, err := ruleFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("latch: list rules: %w", err)
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) CountRules(ctx context.Context, filter *rule.ListFilter) (int64, error) {
	if filter == nil {
		return 0, fmt.Errorf("latch: count rules: account filter required")
	}
	q := s.sdb.NewSelect((*ruleModel)(nil)).
		Where("account_id = ?", filter.AccountID.String())
	if filter.Type != nil {
		q = q.Where("type_kind = ?", string(filter.Type.Kind)).
			Where("type_target = ?", filter.Type.Target)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: count rules: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteRulesByAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*ruleModel)(nil)).
		Where("account_id = ?", accountID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete rules by account: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Check log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateCheckLog(ctx context.Context, e *checklog.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m, err := checkLogToModel(e)
	if err != nil {
		return fmt.Errorf("latch: create check log: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create check log: %w", err)
	}
	return nil
}

func (s *Store) GetCheckLog(ctx context.Context, logID id.AuditLogID) (*checklog.Entry, error) {
	m := new(checkLogModel)
	err := s.sdb.NewSelect(m).Where("id = ?", logID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("check log %s: %w", logID, checklog.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get check log: %w", err)
	}
	e, err := checkLogFromModel(m)
	if err != nil {
		return nil, fmt.Errorf("latch: get check log: %w", err)
	}
	return e, nil
}

func (s *Store) ListCheckLogs(ctx context.Context, filter *checklog.QueryFilter) ([]*checklog.Entry, error) {
	var models []checkLogModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at DESC")
	if filter != nil {
		if !filter.AccountID.IsNil() {
			q = q.Where("account_id = ?", filter.AccountID.String())
		}
		if filter.Decision != "" {
			q = q.Where("decision = ?", filter.Decision)
		}
		if filter.After != nil {
			q = q.Where("created_at >= ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("created_at <= ?", *filter.Before)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("latch: list check logs: %w", err)
	}
	result := make([]*checklog.Entry, len(models))
	for i := range models {
		e, err := checkLogFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("latch: list check logs: %w", err)
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) CountCheckLogs(ctx context.Context, filter *checklog.QueryFilter) (int64, error) {
	q := s.sdb.NewSelect((*checkLogModel)(nil))
	if filter != nil {
		if !filter.AccountID.IsNil() {
			q = q.Where("account_id = ?", filter.AccountID.String())
		}
		if filter.Decision != "" {
			q = q.Where("decision = ?", filter.Decision)
		}
		if filter.After != nil {
			q = q.Where("created_at >= ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("created_at <= ?", *filter.Before)
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: count check logs: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeCheckLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*checkLogModel)(nil)).
		Where("created_at < ?", before).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: purge check logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("latch: purge check logs rows: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteCheckLogsByAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*checkLogModel)(nil)).
		Where("account_id = ?", accountID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete check logs by account: %w", err)
	}
	return nil
}

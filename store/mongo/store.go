// Package mongo provides a MongoDB implementation of the latch composite
// store using grove's mongo driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/store"
)

// Collection name constants.
const (
	colAccounts  = "latch_accounts"
	colRules     = "latch_rules"
	colCheckLogs = "latch_check_logs"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite latch store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all latch collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("latch/mongo: migrate %s indexes: %w", col, err)
		}
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all latch collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colRules: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "rule_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "account_id", Value: 1},
				{Key: "type_kind", Value: 1},
				{Key: "type_target", Value: 1},
				{Key: "rule_id", Value: 1},
			}},
		},
		colCheckLogs: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "decision", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
}

// ──────────────────────────────────────────────────
// Account operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	t := now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t
	}
	a.UpdatedAt = t
	if _, err := s.mdb.NewInsert(accountToModel(a)).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("account %s: %w", accountID, account.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get account: %w", err)
	}
	return accountFromModel(&m), nil
}

func (s *Store) ListAccounts(ctx context.Context, filter *account.ListFilter) ([]*account.Account, error) {
	var models []accountModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	_, err := s.mdb.NewDelete((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete account: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Rule operations
// ──────────────────────────────────────────────────

// CreateRule takes the next rule ID with an atomic $inc on the account
// document, then inserts the rule. A failed insert burns the ID.
func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	t := now()
	var acct accountModel
	err := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": r.AccountID.String()},
		bson.M{
			"$inc": bson.M{"next_rule_id": 1},
			"$set": bson.M{"updated_at": t},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&acct)
	if err != nil {
		if isNoDocuments(err) {
			return fmt.Errorf("account %s: %w", r.AccountID, account.ErrNotFound)
		}
		return fmt.Errorf("latch: advance rule counter: %w", err)
	}

	r.ID = uint32(acct.NextRuleID)
	r.CreatedAt = t
	r.UpdatedAt = t
	if _, err := s.mdb.NewInsert(ruleToModel(r)).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, accountID id.AccountID, ruleID uint32) (*rule.Rule, error) {
	var m ruleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": ruleDocID(accountID, ruleID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get rule: %w", err)
	}
	r, err := ruleFromModel(&m)
	if err != nil {
		return nil, fmt.Errorf("latch: get rule: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *rule.Rule) error {
	r.UpdatedAt = now()
	m := ruleToModel(r)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: update rule: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("rule %s/%d: %w", r.AccountID, r.ID, rule.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, accountID id.AccountID, ruleID uint32) error {
	res, err := s.mdb.NewDelete((*ruleModel)(nil)).
		Filter(bson.M{"_id": ruleDocID(accountID, ruleID)}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete rule: %w", err)
	}
	if res.DeletedCount() == 0 {
		return fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
	}
	return nil
}

func ruleFilter(filter *rule.ListFilter) bson.M {
	f := bson.M{"account_id": filter.AccountID.String()}
	if filter.Type != nil {
		f["type_kind"] = string(filter.Type.Kind)
		f["type_target"] = filter.Type.Target
	}
	return f
}

func (s *Store) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	if filter == nil {
		return nil, fmt.Errorf("latch: list rules: account filter required")
	}
	var models []ruleModel
	q := s.mdb.NewFind(&models).
		Filter(ruleFilter(filter)).
		Sort(bson.D{{Key: "rule_id", Value: 1}})
	if filter.Limit > 0 {
		q = q.Limit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*ruleModel)(nil)).
		Filter(ruleFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: count rules: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteRulesByAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.mdb.NewDelete((*ruleModel)(nil)).
		Many().
		Filter(bson.M{"account_id": accountID.String()}).
		Exec(ctx)
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
		e.CreatedAt = now()
	}
	if _, err := s.mdb.NewInsert(checkLogToModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("latch: create check log: %w", err)
	}
	return nil
}

func (s *Store) GetCheckLog(ctx context.Context, logID id.AuditLogID) (*checklog.Entry, error) {
	var m checkLogModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": logID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("check log %s: %w", logID, checklog.ErrNotFound)
		}
		return nil, fmt.Errorf("latch: get check log: %w", err)
	}
	return checkLogFromModel(&m), nil
}

func checkLogFilter(filter *checklog.QueryFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if !filter.AccountID.IsNil() {
		f["account_id"] = filter.AccountID.String()
	}
	if filter.Decision != "" {
		f["decision"] = filter.Decision
	}
	if filter.After != nil || filter.Before != nil {
		dateFilter := bson.M{}
		if filter.After != nil {
			dateFilter["$gte"] = *filter.After
		}
		if filter.Before != nil {
			dateFilter["$lte"] = *filter.Before
		}
		f["created_at"] = dateFilter
	}
	return f
}

func (s *Store) ListCheckLogs(ctx context.Context, filter *checklog.QueryFilter) ([]*checklog.Entry, error) {
	var models []checkLogModel
	q := s.mdb.NewFind(&models).
		Filter(checkLogFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("latch: list check logs: %w", err)
	}
	result := make([]*checklog.Entry, len(models))
	for i := range models {
		result[i] = checkLogFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountCheckLogs(ctx context.Context, filter *checklog.QueryFilter) (int64, error) {
	count, err := s.mdb.NewFind((*checkLogModel)(nil)).
		Filter(checkLogFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: count check logs: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeCheckLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*checkLogModel)(nil)).
		Many().
		Filter(bson.M{"created_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: purge check logs: %w", err)
	}
	return res.DeletedCount(), nil
}

func (s *Store) DeleteCheckLogsByAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.mdb.NewDelete((*checkLogModel)(nil)).
		Many().
		Filter(bson.M{"account_id": accountID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("latch: delete check logs by account: %w", err)
	}
	return nil
}

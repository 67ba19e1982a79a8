package airdrop

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-airdrop/pkg/db/option"
	"smallbiznis-airdrop/pkg/db/pagination"
	"smallbiznis-airdrop/pkg/errutil"
	"smallbiznis-airdrop/services/platform"

	"gorm.io/gorm"
)

// BalanceFilter narrows the reward entries a read covers. Every field is optional.
type BalanceFilter struct {
	UserID   string              `form:"user_id"`
	Platform platform.Platform   `form:"platform"`
	Action   platform.ActionType `form:"action"`
	Settled  *bool               `form:"settled"`
}

func (f BalanceFilter) options() []option.QueryOption {
	var opts []option.QueryOption
	if f.UserID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "p.user_id", Operator: option.EQ, Value: f.UserID}))
	}
	if f.Platform != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "p.platform", Operator: option.EQ, Value: f.Platform}))
	}
	if f.Action != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "t.action_type", Operator: option.EQ, Value: f.Action}))
	}
	if f.Settled != nil {
		op := option.IsNull
		if *f.Settled {
			op = option.IsNotNull
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "e.settlement_ref", Operator: op}))
	}
	return opts
}

type Balance struct {
	Unit    string `json:"unit"`
	Pending int64  `json:"pending"`
	Settled int64  `json:"settled"`
	Total   int64  `json:"total"`
	Entries int64  `json:"entries"`
}

type HistoryFilter struct {
	BalanceFilter
	pagination.Pagination
}

type HistoryItem struct {
	ID            string              `json:"id" gorm:"column:id"`
	TrackerID     string              `json:"tracker_id" gorm:"column:tracker_id"`
	Platform      platform.Platform   `json:"platform" gorm:"column:platform"`
	Username      string              `json:"username" gorm:"column:username"`
	UserID        *string             `json:"user_id" gorm:"column:user_id"`
	Action        platform.ActionType `json:"action" gorm:"column:action_type"`
	ScopeKey      string              `json:"scope_key" gorm:"column:scope_key"`
	Amount        int64               `json:"amount" gorm:"column:amount"`
	Unit          string              `json:"unit" gorm:"column:unit"`
	SettlementRef *string             `json:"settlement_ref" gorm:"column:settlement_ref"`
	CreatedAt     time.Time           `json:"created_at" gorm:"column:created_at"`
}

type RunFilter struct {
	Platform platform.Platform `form:"platform"`
	pagination.Pagination
}

// Reader serves the read side of the ledger. No rows is a valid empty answer.
type Reader struct {
	db *gorm.DB
}

func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) entries(ctx context.Context, f BalanceFilter) *gorm.DB {
	tx := r.db.WithContext(ctx).
		Table("airdrop_reward_entries AS e").
		Joins("JOIN airdrop_social_profiles AS p ON p.id = e.social_profile_id").
		Joins("JOIN airdrop_trackers AS t ON t.id = e.tracker_id")
	for _, opt := range f.options() {
		tx = opt(tx)
	}
	return tx
}

// Balances sums reward entries per unit. Pending entries have no settlement reference.
func (r *Reader) Balances(ctx context.Context, f BalanceFilter) ([]Balance, error) {
	out := []Balance{}
	err := r.entries(ctx, f).
		Select(`e.unit AS unit,
			COALESCE(SUM(CASE WHEN e.settlement_ref IS NULL THEN e.amount ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN e.settlement_ref IS NOT NULL THEN e.amount ELSE 0 END), 0) AS settled,
			COALESCE(SUM(e.amount), 0) AS total,
			COUNT(*) AS entries`).
		Group("e.unit").
		Order("e.unit").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("sum reward entries: %w", err)
	}
	return out, nil
}

// History lists reward entries newest first with keyset pagination.
func (r *Reader) History(ctx context.Context, f HistoryFilter) ([]*HistoryItem, *pagination.PageInfo, error) {
	page := f.Pagination.Normalize()

	tx := r.entries(ctx, f.BalanceFilter).Select(`e.id, e.tracker_id, p.platform, p.username, p.user_id,
		t.action_type, t.scope_key, e.amount, e.unit, e.settlement_ref, e.created_at`)
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		tx = tx.Where("(e.created_at < ? OR (e.created_at = ? AND e.id < ?))", c.CreatedAt, c.CreatedAt, c.ID)
	}

	var items []*HistoryItem
	err := tx.Order("e.created_at DESC").Order("e.id DESC").Limit(page.Limit + 1).Scan(&items).Error
	if err != nil {
		return nil, nil, fmt.Errorf("list reward entries: %w", err)
	}
	if items == nil {
		items = []*HistoryItem{}
	}

	return pagination.Trim(items, page.Limit, func(it *HistoryItem) pagination.Cursor {
		return pagination.Cursor{CreatedAt: it.CreatedAt, ID: it.ID}
	})
}

func (r *Reader) Runs(ctx context.Context, f RunFilter) ([]*Run, *pagination.PageInfo, error) {
	page := f.Pagination.Normalize()

	tx := r.db.WithContext(ctx).Model(&Run{})
	if f.Platform != "" {
		tx = tx.Where("platform = ?", f.Platform)
	}
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		tx = tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", c.CreatedAt, c.CreatedAt, c.ID)
	}

	runs := []*Run{}
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(page.Limit + 1).Find(&runs).Error; err != nil {
		return nil, nil, fmt.Errorf("list runs: %w", err)
	}
	return pagination.Trim(runs, page.Limit, func(run *Run) pagination.Cursor {
		return pagination.Cursor{CreatedAt: run.CreatedAt, ID: run.ID}
	})
}

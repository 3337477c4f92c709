package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository reads master data from PostgreSQL.
type Repository struct {
	q db.Querier
}

// NewRepository constructs Repository over a pool or transaction.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Account(ctx context.Context, id string) (Account, error) {
	var a Account
	err := r.q.QueryRow(ctx, `SELECT id, code, name, is_leaf, allow_manual_post
FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.IsLeaf, &a.AllowManualPost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *Repository) Party(ctx context.Context, kind PartyKind, id string) (Party, error) {
	var p Party
	err := r.q.QueryRow(ctx, `SELECT id, kind, name, COALESCE(linked_coa_account, '')
FROM parties WHERE id = $1 AND kind = $2`, id, kind).
		Scan(&p.ID, &p.Kind, &p.Name, &p.LinkedCoaAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	return p, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Code
	}{
		{"no rows", pgx.ErrNoRows, apperr.NotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), apperr.NotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, apperr.Duplicate},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, apperr.Conflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperr.Conflict},
		{"wrapped serialization failure", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), apperr.Conflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, apperr.Exception},
		{"driver failure", errors.New("conn reset"), apperr.Exception},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapErr(tt.err, "get user %s", "u")
			if code := apperr.CodeOf(got); code != tt.want {
				t.Errorf("code = %v, want %v (%v)", code, tt.want, got)
			}
		})
	}
	if mapErr(nil, "noop") != nil {
		t.Error("mapErr(nil) should be nil")
	}
}

func TestMapErr_KeepsDriverError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001"}
	var got *pgconn.PgError
	if !errors.As(mapErr(pgErr, "commit transaction"), &got) || got != pgErr {
		t.Error("driver error not reachable through errors.As")
	}
}

// execQuerier answers Exec with a fixed command tag.
type execQuerier struct {
	tag  string
	err  error
	sql  string
	args []any
}

func (q *execQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql, q.args = sql, args
	return pgconn.NewCommandTag(q.tag), q.err
}

func (q *execQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (q *execQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestUpdateUser_Versioned(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		tag         string
		err         error
		want        apperr.Code
		wantVersion int64
	}{
		{"row updated", "UPDATE 1", nil, apperr.OK, 4},
		{"stale version", "UPDATE 0", nil, apperr.Conflict, 3},
		{"serialization failure", "", &pgconn.PgError{Code: "40001"}, apperr.Conflict, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &execQuerier{tag: tt.tag, err: tt.err}
			tx := &pgTx{pgReader: pgReader{q: q, lock: " FOR UPDATE"}}
			u := &model.User{ID: "u", Balance: decimal.NewFromInt(5), Version: 3}

			err := tx.UpdateUser(ctx, u)
			if code := apperr.CodeOf(err); code != tt.want {
				t.Fatalf("code = %v, want %v (%v)", code, tt.want, err)
			}
			if u.Version != tt.wantVersion {
				t.Errorf("version = %d, want %d", u.Version, tt.wantVersion)
			}
			if got := q.args[len(q.args)-1]; got != int64(3) {
				t.Errorf("update guarded by version %v, want 3", got)
			}
		})
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/apparel-admin/internal/models"
)

func newLoans(e *testEnv, now time.Time) *Loans {
	deps := e.deps
	deps.Clock = func() time.Time { return now }
	return NewLoans(deps, e.items)
}

func TestLoans_CheckOutReturn(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e := newEnv(t)
	s := newLoans(e, now)
	ctx := context.Background()

	item := mustCreateItem(t, e.items, "S-1", "Blouse")

	id, err := s.CheckOut(ctx, CheckOutInput{ItemID: item, Borrower: "Stylist A", DueAt: now.Add(72 * time.Hour)})
	require.NoError(t, err)

	loan, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusOnLoan, loan.Status)
	require.Equal(t, now, loan.LoanedAt.UTC())
	require.Nil(t, loan.ReturnedAt)

	// Повторная выдача того же образца.
	_, err = s.CheckOut(ctx, CheckOutInput{ItemID: item, Borrower: "Stylist B", DueAt: now.Add(time.Hour)})
	require.ErrorIs(t, err, ErrConflict)

	returned, err := s.Return(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)

	_, err = s.Return(ctx, id)
	require.ErrorIs(t, err, ErrConflict)

	// После возврата образец снова можно выдать.
	_, err = s.CheckOut(ctx, CheckOutInput{ItemID: item, Borrower: "Stylist B", DueAt: now.Add(time.Hour)})
	require.NoError(t, err)
}

func TestLoans_CheckOut_Validation(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e := newEnv(t)
	s := newLoans(e, now)
	ctx := context.Background()

	item := mustCreateItem(t, e.items, "S-1", "Blouse")

	tests := []struct {
		name  string
		in    CheckOutInput
		field string
	}{
		{name: "no borrower", in: CheckOutInput{ItemID: item, DueAt: now.Add(time.Hour)}, field: "borrower"},
		{name: "no item", in: CheckOutInput{Borrower: "x", DueAt: now.Add(time.Hour)}, field: "item_id"},
		{name: "past due", in: CheckOutInput{ItemID: item, Borrower: "x", DueAt: now.Add(-time.Hour)}, field: "due_at"},
		{name: "unknown item", in: CheckOutInput{ItemID: "ghost", Borrower: "x", DueAt: now.Add(time.Hour)}, field: "item_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CheckOut(ctx, tt.in)
			require.ErrorIs(t, err, ErrInvalidArgument)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestLoans_Overdue(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e := newEnv(t)
	s := newLoans(e, start)
	ctx := context.Background()

	var ids []string
	for i, due := range []time.Duration{48 * time.Hour, 24 * time.Hour, 96 * time.Hour} {
		item := mustCreateItem(t, e.items, "S-"+string(rune('A'+i)), "x")
		id, err := s.CheckOut(ctx, CheckOutInput{ItemID: item, Borrower: "b", DueAt: start.Add(due)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err := s.Return(ctx, ids[1])
	require.NoError(t, err)

	overdue, err := s.Overdue(ctx, start.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, ids[0], overdue[0].ID)

	overdue, err = s.Overdue(ctx, start.Add(100*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	require.Equal(t, ids[0], overdue[0].ID)
	require.Equal(t, ids[2], overdue[1].ID)

	page, err := s.List(ctx, models.ListParams{Filters: map[string]string{"status": models.StatusOnLoan}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

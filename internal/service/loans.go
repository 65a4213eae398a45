package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/storage"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

// Loans — выдача образцов: check-out, возврат, просрочки.
type Loans struct {
	loans *Catalog[models.Loan]
	items *Catalog[models.Item]
}

// NewLoans создаёт сервис выдач.
func NewLoans(deps Deps, items *Catalog[models.Item]) *Loans {
	return &Loans{loans: NewCatalog[models.Loan](LoanKind, deps), items: items}
}

// CheckOutInput — параметры выдачи.
type CheckOutInput struct {
	ItemID   string    `json:"item_id"`
	Borrower string    `json:"borrower"`
	Contact  string    `json:"contact"`
	DueAt    time.Time `json:"due_at"`
	Notes    string    `json:"notes"`
}

// CheckOut выдаёт образец.
// Образец должен существовать и не числиться выданным (иначе ErrConflict);
// срок возврата — в будущем.
func (s *Loans) CheckOut(ctx context.Context, in CheckOutInput) (string, error) {
	const op = "service/loans/CheckOut"

	in.ItemID = strings.TrimSpace(in.ItemID)
	lg := log.From(ctx).With("op", op, "item_id", in.ItemID)

	now := s.loans.deps.now()

	loan := models.Loan{
		ItemID:   in.ItemID,
		Borrower: strings.TrimSpace(in.Borrower),
		Contact:  strings.TrimSpace(in.Contact),
		LoanedAt: now,
		DueAt:    in.DueAt.UTC(),
		Status:   models.StatusOnLoan,
		Notes:    in.Notes,
	}

	if err := s.loans.validate(loan); err != nil {
		lg.Warn("validation failed", "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !loan.DueAt.After(now) {
		lg.Warn("invalid argument: due date in the past")
		return "", fmt.Errorf("%s: %w", op, invalid("due_at", "must be in the future"))
	}

	if _, err := s.items.Get(ctx, in.ItemID); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s: %w", op, invalid("item_id", "unknown item"))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.loans.deps.Docs.Find(ctx, storage.Query{
		Collection: models.CollectionLoans,
		Limit:      1,
		Where: []storage.Filter{
			{Field: "item_id", Value: in.ItemID},
			{Field: "status", Value: models.StatusOnLoan},
		},
	})
	if err != nil {
		return "", fromStorage(lg, op, err)
	}
	if len(rows) > 0 {
		lg.Warn("item already on loan", "loan_id", rows[0].ID)
		return "", fmt.Errorf("%s: %w", op, ErrConflict)
	}

	id, err := s.loans.Create(ctx, loan)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("sample checked out", "loan_id", id, "borrower", loan.Borrower)

	return id, nil
}

// Return отмечает возврат образца. Повторный возврат — ErrConflict.
func (s *Loans) Return(ctx context.Context, id string) (*models.Loan, error) {
	const op = "service/loans/Return"

	lg := log.From(ctx).With("op", op, "id", id)

	loan, err := s.loans.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if loan.Status == models.StatusReturned {
		lg.Warn("loan already returned")
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	}

	err = s.loans.deps.Docs.Update(ctx, models.CollectionLoans, id, map[string]any{
		"status":      models.StatusReturned,
		"returned_at": s.loans.deps.now(),
	})
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}

	return s.loans.Get(ctx, id)
}

// Overdue — невозвращённые выдачи со сроком раньше now, по возрастанию срока.
func (s *Loans) Overdue(ctx context.Context, now time.Time) ([]models.Loan, error) {
	const op = "service/loans/Overdue"

	lg := log.From(ctx).With("op", op)

	rows, err := s.loans.deps.Docs.Find(ctx, storage.Query{
		Collection: models.CollectionLoans,
		OrderBy:    "due_at",
		Where:      []storage.Filter{{Field: "status", Value: models.StatusOnLoan}},
	})
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}

	out := make([]models.Loan, 0)
	for _, r := range rows {
		var l models.Loan
		if err := bson.Unmarshal(r.Data, &l); err != nil {
			lg.Error("decode document", "id", r.ID, "err", err)
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
		if !l.DueAt.Before(now) {
			// Отсортировано по сроку: дальше только будущие.
			break
		}
		out = append(out, l)
	}

	return out, nil
}

// List — постраничный список выдач.
func (s *Loans) List(ctx context.Context, p models.ListParams) (*models.Page[models.Loan], error) {
	return s.loans.List(ctx, p)
}

// Get возвращает выдачу.
func (s *Loans) Get(ctx context.Context, id string) (*models.Loan, error) {
	return s.loans.Get(ctx, id)
}

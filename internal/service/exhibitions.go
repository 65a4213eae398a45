package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pribylovaa/apparel-admin/internal/export"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

// Exhibitions — выставки и публикация каталога.
type Exhibitions struct {
	*Catalog[models.Exhibition]

	items *Catalog[models.Item]
}

// NewExhibitions создаёт сервис выставок.
func NewExhibitions(deps Deps, items *Catalog[models.Item]) *Exhibitions {
	c := NewCatalog[models.Exhibition](ExhibitionKind, deps)
	c.check = func(e models.Exhibition) error {
		if err := checkDates(e); err != nil {
			return err
		}
		return uniqueIDs("item_ids", e.ItemIDs)
	}

	return &Exhibitions{Catalog: c, items: items}
}

// checkDates — дата окончания не раньше даты начала.
func checkDates(e models.Exhibition) error {
	if e.StartDate != nil && e.EndDate != nil && e.EndDate.Before(*e.StartDate) {
		return invalid("end_date", "must not be before start_date")
	}
	return nil
}

// Publish публикует каталог выставки. Повторная публикация ничего не меняет.
func (s *Exhibitions) Publish(ctx context.Context, id string) (*models.Exhibition, error) {
	const op = "service/exhibitions/Publish"

	lg := log.From(ctx).With("op", op, "id", id)

	ex, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if ex.Status == models.StatusPublished {
		return ex, nil
	}

	if ex.Status == models.StatusArchived {
		lg.Warn("archived exhibition cannot be published")
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	}

	now := s.deps.now()
	err = s.deps.Docs.Update(ctx, models.CollectionExhibitions, id, map[string]any{
		"status":       models.StatusPublished,
		"published_at": now,
	})
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}

	lg.Info("exhibition published")

	return s.Get(ctx, id)
}

// AddItems добавляет изделия в каталог выставки.
// Неизвестные изделия — ошибка валидации до любых изменений.
// Возвращает число действительно добавленных.
func (s *Exhibitions) AddItems(ctx context.Context, id string, itemIDs []string) (int, error) {
	const op = "service/exhibitions/AddItems"

	lg := log.From(ctx).With("op", op, "id", id)

	itemIDs = dedup(itemIDs)
	if len(itemIDs) == 0 {
		lg.Warn("invalid argument: no items")
		return 0, fmt.Errorf("%s: %w", op, invalid("item_ids", "is required"))
	}

	if _, err := s.Get(ctx, id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var unknown []string
	for _, itemID := range itemIDs {
		_, err := s.items.Get(ctx, itemID)
		if errors.Is(err, ErrNotFound) {
			unknown = append(unknown, itemID)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}
	if len(unknown) > 0 {
		lg.Warn("unknown items", "item_ids", unknown)
		return 0, fmt.Errorf("%s: %w", op, invalid("item_ids", "unknown items: "+strings.Join(unknown, ", ")))
	}

	added := 0
	for _, itemID := range itemIDs {
		changed, err := s.deps.Docs.AddToSet(ctx, models.CollectionExhibitions, id, "item_ids", itemID)
		if err != nil {
			return added, fromStorage(lg, op, err)
		}
		if changed {
			added++
		}
	}

	return added, nil
}

// RemoveItem убирает изделие из каталога выставки.
func (s *Exhibitions) RemoveItem(ctx context.Context, id, itemID string) (bool, error) {
	const op = "service/exhibitions/RemoveItem"

	lg := log.From(ctx).With("op", op, "id", id, "item_id", itemID)

	removed, err := s.deps.Docs.Pull(ctx, models.CollectionExhibitions, id, "item_ids", itemID)
	if err != nil {
		return false, fromStorage(lg, op, err)
	}

	return removed, nil
}

// ExportCatalog строит PDF-каталог выставки.
func (s *Exhibitions) ExportCatalog(ctx context.Context, id string) (*export.Result, error) {
	const op = "service/exhibitions/ExportCatalog"

	lg := log.From(ctx).With("op", op, "id", id)

	if s.deps.Exporter == nil {
		lg.Warn("exporter is not configured")
		return nil, fmt.Errorf("%s: %w", op, ErrUnavailable)
	}

	ex, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := resolveItems(ctx, s.items, ex.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	subtitle := ex.Venue
	if ex.StartDate != nil {
		subtitle = strings.TrimSpace(subtitle + " " + ex.StartDate.Format("2006-01-02"))
	}

	res, err := s.deps.Exporter.Export(ctx, export.Document{
		Title:    ex.Name,
		Subtitle: subtitle,
		Cards:    itemCards(items),
	})
	if err != nil {
		lg.Error("export failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return res, nil
}

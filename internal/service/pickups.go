package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pribylovaa/apparel-admin/internal/export"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/storage"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

// Параметры генерации кода подборки.
const (
	codeAttempts   = 100
	createAttempts = 3
)

// Pickups — жизненный цикл подборок: коды, создание, share-ссылки, состав, экспорт.
type Pickups struct {
	*Catalog[models.Pickup]

	items  *Catalog[models.Item]
	origin string
}

// NewPickups создаёт сервис подборок.
// origin — публичный origin приложения для share-ссылок.
func NewPickups(deps Deps, items *Catalog[models.Item], origin string) *Pickups {
	c := NewCatalog[models.Pickup](PickupKind, deps)
	c.check = func(pk models.Pickup) error { return uniqueIDs("item_ids", pk.ItemIDs) }

	return &Pickups{
		Catalog: c,
		items:   items,
		origin:  strings.TrimRight(origin, "/"),
	}
}

// CreatePickupInput — данные новой подборки.
// Пустой Code — код генерируется.
type CreatePickupInput struct {
	ExhibitionID string   `json:"exhibition_id"`
	CustomerName string   `json:"customer_name"`
	Code         string   `json:"code"`
	ItemIDs      []string `json:"item_ids"`
}

func codePrefix(exhibitionID string) string {
	return "PU-" + exhibitionID + "-"
}

// GenerateCode предлагает следующий свободный код подборки выставки:
// PU-<exhibitionID>-NNN, где NNN = max существующего суффикса + 1.
// Каждое предложение проверяется отдельным запросом; после codeAttempts
// коллизий — PU-<exhibitionID>-<unix millis>.
func (p *Pickups) GenerateCode(ctx context.Context, exhibitionID string) (string, error) {
	const op = "service/pickups/GenerateCode"

	exhibitionID = strings.TrimSpace(exhibitionID)
	lg := log.From(ctx).With("op", op, "exhibition_id", exhibitionID)

	if exhibitionID == "" {
		lg.Warn("invalid argument: empty exhibition id")
		return "", fmt.Errorf("%s: %w", op, invalid("exhibition_id", "is required"))
	}

	rows, err := p.deps.Docs.Find(ctx, storage.Query{
		Collection: models.CollectionPickups,
		Where:      []storage.Filter{{Field: "exhibition_id", Value: exhibitionID}},
	})
	if err != nil {
		return "", fromStorage(lg, op, err)
	}

	prefix := codePrefix(exhibitionID)
	highest := 0
	for _, r := range rows {
		code, ok := storage.SortValue(r.Data, "code").StringValueOK()
		if !ok {
			continue
		}
		if n, ok := codeSuffix(code, prefix); ok && n > highest {
			highest = n
		}
	}

	for i := 1; i <= codeAttempts; i++ {
		code := fmt.Sprintf("%s%03d", prefix, highest+i)

		taken, err := p.codeTaken(ctx, exhibitionID, code)
		if err != nil {
			return "", fromStorage(lg, op, err)
		}
		if !taken {
			return code, nil
		}
	}

	lg.Warn("code attempts exhausted, falling back to timestamp")

	return fmt.Sprintf("%s%d", prefix, p.deps.now().UnixMilli()), nil
}

// codeSuffix — числовой суффикс кода с префиксом prefix.
func codeSuffix(code, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(code, prefix)
	if !ok || rest == "" {
		return 0, false
	}

	// Atoi принимает знак: "+41" не считается номером.
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

func (p *Pickups) codeTaken(ctx context.Context, exhibitionID, code string) (bool, error) {
	rows, err := p.deps.Docs.Find(ctx, storage.Query{
		Collection: models.CollectionPickups,
		Limit:      1,
		Where: []storage.Filter{
			{Field: "exhibition_id", Value: exhibitionID},
			{Field: "code", Value: code},
		},
	})
	if err != nil {
		return false, err
	}

	return len(rows) > 0, nil
}

// Create создаёт подборку.
// Явный код, уже занятый в выставке, — ErrCodeInUse. Без явного кода
// генерируется новый; проигранная гонка за код (уникальный индекс) повторяется
// до createAttempts раз.
func (p *Pickups) Create(ctx context.Context, in CreatePickupInput) (string, error) {
	const op = "service/pickups/Create"

	in.ExhibitionID = strings.TrimSpace(in.ExhibitionID)
	in.Code = strings.TrimSpace(in.Code)
	lg := log.From(ctx).With("op", op, "exhibition_id", in.ExhibitionID)

	if in.ExhibitionID == "" {
		lg.Warn("invalid argument: empty exhibition id")
		return "", fmt.Errorf("%s: %w", op, invalid("exhibition_id", "is required"))
	}

	pickup := models.Pickup{
		ExhibitionID: in.ExhibitionID,
		CustomerName: strings.TrimSpace(in.CustomerName),
		ItemIDs:      dedup(in.ItemIDs),
		Status:       models.StatusActive,
	}

	if in.Code != "" {
		taken, err := p.codeTaken(ctx, in.ExhibitionID, in.Code)
		if err != nil {
			return "", fromStorage(lg, op, err)
		}
		if taken {
			lg.Warn("code already in use", "code", in.Code)
			return "", fmt.Errorf("%s: %w", op, ErrCodeInUse)
		}

		pickup.Code = in.Code
		id, err := p.Catalog.Create(ctx, pickup)
		if errors.Is(err, ErrConflict) {
			return "", fmt.Errorf("%s: %w", op, ErrCodeInUse)
		}
		return id, err
	}

	for attempt := 1; ; attempt++ {
		code, err := p.GenerateCode(ctx, in.ExhibitionID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		pickup.Code = code
		id, err := p.Catalog.Create(ctx, pickup)
		if err == nil {
			lg.Info("pickup created", "id", id, "code", code)
			return id, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= createAttempts {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		lg.Warn("generated code taken concurrently, retrying", "code", code, "attempt", attempt)
	}
}

// Update обновляет подборку; занятый код — ErrCodeInUse.
func (p *Pickups) Update(ctx context.Context, id string, patch models.Patch) error {
	err := p.Catalog.Update(ctx, id, patch)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("service/pickups/Update: %w", ErrCodeInUse)
	}
	return err
}

// ShareURL — публичная ссылка на подборку.
func (p *Pickups) ShareURL(id string) string {
	return p.origin + "/pickup/" + id
}

// Share сохраняет share-ссылку в подборке и возвращает её.
func (p *Pickups) Share(ctx context.Context, id string) (string, error) {
	const op = "service/pickups/Share"

	lg := log.From(ctx).With("op", op, "id", id)

	url := p.ShareURL(id)
	if err := p.deps.Docs.Update(ctx, models.CollectionPickups, id, map[string]any{"share_url": url}); err != nil {
		return "", fromStorage(lg, op, err)
	}

	return url, nil
}

// AddItem атомарно добавляет изделие в подборку.
// added=false — изделие уже было в подборке (документ не изменён).
func (p *Pickups) AddItem(ctx context.Context, id, itemID string) (bool, error) {
	const op = "service/pickups/AddItem"

	itemID = strings.TrimSpace(itemID)
	lg := log.From(ctx).With("op", op, "id", id, "item_id", itemID)

	if itemID == "" {
		lg.Warn("invalid argument: empty item id")
		return false, fmt.Errorf("%s: %w", op, invalid("item_id", "is required"))
	}

	added, err := p.deps.Docs.AddToSet(ctx, models.CollectionPickups, id, "item_ids", itemID)
	if err != nil {
		return false, fromStorage(lg, op, err)
	}

	return added, nil
}

// RemoveItem атомарно убирает изделие из подборки.
func (p *Pickups) RemoveItem(ctx context.Context, id, itemID string) (bool, error) {
	const op = "service/pickups/RemoveItem"

	lg := log.From(ctx).With("op", op, "id", id, "item_id", itemID)

	removed, err := p.deps.Docs.Pull(ctx, models.CollectionPickups, id, "item_ids", itemID)
	if err != nil {
		return false, fromStorage(lg, op, err)
	}

	return removed, nil
}

// FindByCode ищет подборку выставки по коду. Нет — ErrNotFound.
func (p *Pickups) FindByCode(ctx context.Context, exhibitionID, code string) (*models.Pickup, error) {
	const op = "service/pickups/FindByCode"

	lg := log.From(ctx).With("op", op, "exhibition_id", exhibitionID, "code", code)

	rows, err := p.deps.Docs.Find(ctx, storage.Query{
		Collection: models.CollectionPickups,
		Limit:      1,
		Where: []storage.Filter{
			{Field: "exhibition_id", Value: exhibitionID},
			{Field: "code", Value: code},
		},
	})
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return p.Get(ctx, rows[0].ID)
}

// PublicPickup — подборка для публичной страницы.
type PublicPickup struct {
	Pickup models.Pickup `json:"pickup"`
	Items  []models.Item `json:"items"`
}

// Public возвращает активную подборку с изделиями.
// Неактивная подборка не отличима от отсутствующей (ErrNotFound).
func (p *Pickups) Public(ctx context.Context, id string) (*PublicPickup, error) {
	const op = "service/pickups/Public"

	lg := log.From(ctx).With("op", op, "id", id)

	pickup, err := p.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if pickup.Status != models.StatusActive {
		lg.Warn("pickup is not active", "status", pickup.Status)
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	items, err := resolveItems(ctx, p.items, pickup.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PublicPickup{Pickup: *pickup, Items: items}, nil
}

// ExportPDF строит PDF подборки.
func (p *Pickups) ExportPDF(ctx context.Context, id string) (*export.Result, error) {
	const op = "service/pickups/ExportPDF"

	lg := log.From(ctx).With("op", op, "id", id)

	if p.deps.Exporter == nil {
		lg.Warn("exporter is not configured")
		return nil, fmt.Errorf("%s: %w", op, ErrUnavailable)
	}

	pickup, err := p.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := resolveItems(ctx, p.items, pickup.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	title := "Pickup " + pickup.Code
	res, err := p.deps.Exporter.Export(ctx, export.Document{
		Title:    title,
		Subtitle: pickup.CustomerName,
		Cards:    itemCards(items),
	})
	if err != nil {
		lg.Error("export failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return res, nil
}

// resolveItems загружает изделия по id в заданном порядке; удалённые пропускаются.
func resolveItems(ctx context.Context, items *Catalog[models.Item], ids []string) ([]models.Item, error) {
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		it, err := items.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, nil
}

// itemCards — карточки экспорта по изделиям.
func itemCards(items []models.Item) []export.Card {
	cards := make([]export.Card, 0, len(items))
	for _, it := range items {
		c := export.Card{
			Title:    it.Name,
			Subtitle: it.SKU,
			Detail:   itemDetail(it),
		}
		if len(it.Images) > 0 {
			c.ImageURL = it.Images[0].URL
			c.BlurHash = it.Images[0].BlurHash
		}
		cards = append(cards, c)
	}
	return cards
}

func itemDetail(it models.Item) string {
	var parts []string
	if it.Color != "" {
		parts = append(parts, it.Color)
	}
	if len(it.Sizes) > 0 {
		parts = append(parts, strings.Join(it.Sizes, " "))
	}
	if it.Price > 0 {
		parts = append(parts, strconv.FormatFloat(it.Price, 'f', 2, 64))
	}
	return strings.Join(parts, " / ")
}

// uniqueIDs — ids как множество: без пустых и повторных значений.
func uniqueIDs(field string, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid(field, "must not contain empty ids")
		}
		if seen[id] {
			return invalid(field, "must not contain duplicates")
		}
		seen[id] = true
	}
	return nil
}

// dedup убирает пустые и повторные id, сохраняя порядок.
func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Package scan — рабочий процесс QR-сканирования образцов в подборку.
//
// Состояния клиента: нет сессии -> (Start) -> сессия активна -> (Scan)* -> (End) -> нет сессии.
// Сессия (код подборки, выставка, время начала) хранится во внешнем KV по id клиента;
// подборка создаётся лениво при первом скане.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/scan/sessionstore"
	"github.com/pribylovaa/apparel-admin/internal/service"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

var (
	// ErrNoSession — у клиента нет активной сессии.
	ErrNoSession = errors.New("no active scan session")
	// ErrExhibitionMismatch — отсканированный образец другой выставки; сессия не меняется.
	ErrExhibitionMismatch = errors.New("exhibition does not match active session")
	// ErrInvalidArgument — не заданы обязательные параметры.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Pickups — операции подборок, нужные процессу.
type Pickups interface {
	FindByCode(ctx context.Context, exhibitionID, code string) (*models.Pickup, error)
	Create(ctx context.Context, in service.CreatePickupInput) (string, error)
	AddItem(ctx context.Context, id, itemID string) (bool, error)
}

// Session — активная сессия клиента.
type Session = sessionstore.Session

// Result — итог скана.
// AlreadyAdded — образец уже был в подборке, документ не менялся.
// Created — подборка создана этим сканом.
type Result struct {
	PickupID     string `json:"pickup_id"`
	PickupCode   string `json:"pickup_code"`
	ExhibitionID string `json:"exhibition_id"`
	ItemID       string `json:"item_id"`
	AlreadyAdded bool   `json:"already_added"`
	Created      bool   `json:"created"`
}

// Workflow — процесс сканирования.
type Workflow struct {
	sessions sessionstore.Store
	pickups  Pickups
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// New создаёт процесс. Интервал опроса и TTL сессии — из конфига.
func New(sessions sessionstore.Store, pickups Pickups, cfg config.ScanConfig) *Workflow {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Workflow{
		sessions: sessions,
		pickups:  pickups,
		ttl:      cfg.SessionTTL,
		interval: interval,
		now:      time.Now,
	}
}

// Interval — период опроса подборки.
func (w *Workflow) Interval() time.Duration { return w.interval }

// Start открывает сессию клиента, заменяя существующую.
// Подборка не проверяется и не создаётся.
func (w *Workflow) Start(ctx context.Context, clientID, exhibitionID, pickupCode string) (*Session, error) {
	const op = "scan/Start"

	exhibitionID, pickupCode = strings.TrimSpace(exhibitionID), strings.TrimSpace(pickupCode)
	lg := log.From(ctx).With("op", op, "client", clientID, "exhibition_id", exhibitionID, "pickup_code", pickupCode)

	if clientID == "" || exhibitionID == "" || pickupCode == "" {
		lg.Warn("invalid argument: client, exhibition and pickup code are required")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	s := Session{PickupCode: pickupCode, ExhibitionID: exhibitionID, StartTime: w.now().UTC()}
	if err := w.sessions.Put(ctx, clientID, s, w.ttl); err != nil {
		lg.Error("session store put failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, service.ErrUnavailable)
	}

	lg.Info("scan session started")

	return &s, nil
}

// Current возвращает сессию клиента или ErrNoSession.
func (w *Workflow) Current(ctx context.Context, clientID string) (*Session, error) {
	const op = "scan/Current"

	s, err := w.sessions.Get(ctx, clientID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err != nil {
		log.From(ctx).Error("session store get failed", "op", op, "client", clientID, "err", err)
		return nil, fmt.Errorf("%s: %w", op, service.ErrUnavailable)
	}

	return s, nil
}

// Scan добавляет образец в подборку активной сессии.
//   - нет сессии — ErrNoSession;
//   - выставка не совпадает — ErrExhibitionMismatch, сессия не меняется;
//   - подборки (код, выставка) нет — создаётся;
//   - образец уже в подборке — AlreadyAdded, без изменений.
func (w *Workflow) Scan(ctx context.Context, clientID, itemID, exhibitionID string) (*Result, error) {
	const op = "scan/Scan"

	itemID, exhibitionID = strings.TrimSpace(itemID), strings.TrimSpace(exhibitionID)
	lg := log.From(ctx).With("op", op, "client", clientID, "item_id", itemID, "exhibition_id", exhibitionID)

	if itemID == "" || exhibitionID == "" {
		lg.Warn("invalid argument: item and exhibition are required")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	s, err := w.Current(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.ExhibitionID != exhibitionID {
		lg.Warn("exhibition mismatch", "session_exhibition_id", s.ExhibitionID)
		return nil, fmt.Errorf("%s: %w", op, ErrExhibitionMismatch)
	}

	pickupID, created, err := w.resolvePickup(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	added, err := w.pickups.AddItem(ctx, pickupID, itemID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &Result{
		PickupID:     pickupID,
		PickupCode:   s.PickupCode,
		ExhibitionID: s.ExhibitionID,
		ItemID:       itemID,
		AlreadyAdded: !added,
		Created:      created,
	}

	lg.Info("item scanned", "pickup_id", pickupID, "already_added", res.AlreadyAdded)

	return res, nil
}

// resolvePickup находит подборку сессии или создаёт её.
// Если подборку с тем же кодом успел создать другой клиент — берётся она.
func (w *Workflow) resolvePickup(ctx context.Context, s *Session) (string, bool, error) {
	p, err := w.pickups.FindByCode(ctx, s.ExhibitionID, s.PickupCode)
	if err == nil {
		return p.ID, false, nil
	}
	if !errors.Is(err, service.ErrNotFound) {
		return "", false, err
	}

	id, err := w.pickups.Create(ctx, service.CreatePickupInput{ExhibitionID: s.ExhibitionID, Code: s.PickupCode})
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, service.ErrCodeInUse) {
		return "", false, err
	}

	p, err = w.pickups.FindByCode(ctx, s.ExhibitionID, s.PickupCode)
	if err != nil {
		return "", false, err
	}

	return p.ID, false, nil
}

// End закрывает сессию клиента. Подборка не удаляется.
func (w *Workflow) End(ctx context.Context, clientID string) error {
	const op = "scan/End"

	if err := w.sessions.Delete(ctx, clientID); err != nil {
		log.From(ctx).Error("session store delete failed", "op", op, "client", clientID, "err", err)
		return fmt.Errorf("%s: %w", op, service.ErrUnavailable)
	}

	return nil
}

// Snapshot — состояние подборки сессии на момент опроса.
// Exists=false — подборка ещё не создана (ни одного скана).
type Snapshot struct {
	PickupID   string    `json:"pickup_id"`
	PickupCode string    `json:"pickup_code"`
	ItemIDs    []string  `json:"item_ids"`
	Exists     bool      `json:"exists"`
	At         time.Time `json:"at"`
}

// Poll раз в интервал перечитывает подборку сессии и передаёт fn полный список
// образцов (список заменяется целиком). Первый снимок — сразу.
// Завершается с отменой ctx (nil), ошибкой fn или ошибкой чтения.
func (w *Workflow) Poll(ctx context.Context, clientID string, fn func(Snapshot) error) error {
	const op = "scan/Poll"

	s, err := w.Current(ctx, clientID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		snap, err := w.snapshot(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := fn(snap); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Workflow) snapshot(ctx context.Context, s *Session) (Snapshot, error) {
	snap := Snapshot{PickupCode: s.PickupCode, ItemIDs: []string{}, At: w.now().UTC()}

	p, err := w.pickups.FindByCode(ctx, s.ExhibitionID, s.PickupCode)
	if errors.Is(err, service.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}

	snap.PickupID, snap.Exists = p.ID, true
	if p.ItemIDs != nil {
		snap.ItemIDs = p.ItemIDs
	}

	return snap, nil
}

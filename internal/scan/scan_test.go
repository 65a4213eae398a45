package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/scan/sessionstore"
	"github.com/pribylovaa/apparel-admin/internal/service"
	"github.com/pribylovaa/apparel-admin/internal/storage/memory"
)

func newWorkflow(t *testing.T) (*Workflow, *service.Pickups) {
	t.Helper()

	deps := service.Deps{
		Docs:      memory.NewDocuments(),
		Objects:   memory.NewObjects(""),
		Validator: service.NewValidator(),
		Limits:    config.LimitsConfig{Default: 20, Max: 100},
	}
	items := service.NewCatalog[models.Item](service.ItemKind, deps)
	pickups := service.NewPickups(deps, items, "http://localhost:8080")

	w := New(sessionstore.NewMemory(), pickups, config.ScanConfig{PollInterval: 10 * time.Millisecond, SessionTTL: time.Hour})
	return w, pickups
}

// Сценарий: сессия EX01/PU-EX01-001, скан IT-1, опрос, повторный скан.
func TestWorkflow_Scenario(t *testing.T) {
	w, pickups := newWorkflow(t)
	ctx := context.Background()

	_, err := w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)

	res, err := w.Scan(ctx, "phone", "IT-1", "EX01")
	require.NoError(t, err)
	require.False(t, res.AlreadyAdded)
	require.True(t, res.Created)

	pctx, cancel := context.WithCancel(ctx)
	var snap Snapshot
	err = w.Poll(pctx, "phone", func(s Snapshot) error {
		snap = s
		cancel()
		return nil
	})
	require.NoError(t, err)
	require.True(t, snap.Exists)
	require.Equal(t, []string{"IT-1"}, snap.ItemIDs)

	res, err = w.Scan(ctx, "phone", "IT-1", "EX01")
	require.NoError(t, err)
	require.True(t, res.AlreadyAdded)
	require.False(t, res.Created)

	p, err := pickups.FindByCode(ctx, "EX01", "PU-EX01-001")
	require.NoError(t, err)
	require.Equal(t, []string{"IT-1"}, p.ItemIDs)
	require.Equal(t, res.PickupID, p.ID)
}

func TestWorkflow_NoSession(t *testing.T) {
	w, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := w.Scan(ctx, "phone", "IT-1", "EX01")
	require.ErrorIs(t, err, ErrNoSession)

	err = w.Poll(ctx, "phone", func(Snapshot) error { return nil })
	require.ErrorIs(t, err, ErrNoSession)

	_, err = w.Current(ctx, "phone")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestWorkflow_ExhibitionMismatch_SessionUntouched(t *testing.T) {
	w, pickups := newWorkflow(t)
	ctx := context.Background()

	started, err := w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)

	_, err = w.Scan(ctx, "phone", "IT-1", "EX02")
	require.ErrorIs(t, err, ErrExhibitionMismatch)

	cur, err := w.Current(ctx, "phone")
	require.NoError(t, err)
	require.Equal(t, *started, *cur)

	// Подборка не создана.
	_, err = pickups.FindByCode(ctx, "EX01", "PU-EX01-001")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestWorkflow_StartValidationAndSupersede(t *testing.T) {
	w, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := w.Start(ctx, "phone", "", "PU-1")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = w.Start(ctx, "phone", "EX01", " ")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)
	_, err = w.Start(ctx, "phone", "EX02", "PU-EX02-001")
	require.NoError(t, err)

	cur, err := w.Current(ctx, "phone")
	require.NoError(t, err)
	require.Equal(t, "EX02", cur.ExhibitionID)

	_, err = w.Scan(ctx, "phone", "", "EX02")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// End удаляет сессию, подборка остаётся.
func TestWorkflow_End(t *testing.T) {
	w, pickups := newWorkflow(t)
	ctx := context.Background()

	_, err := w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)
	_, err = w.Scan(ctx, "phone", "IT-1", "EX01")
	require.NoError(t, err)

	require.NoError(t, w.End(ctx, "phone"))
	require.NoError(t, w.End(ctx, "phone"))

	_, err = w.Scan(ctx, "phone", "IT-2", "EX01")
	require.ErrorIs(t, err, ErrNoSession)

	p, err := pickups.FindByCode(ctx, "EX01", "PU-EX01-001")
	require.NoError(t, err)
	require.Equal(t, []string{"IT-1"}, p.ItemIDs)
}

// Опрос видит сканы с другого устройства (общая подборка, разные клиенты).
func TestWorkflow_Poll_SeesOtherDevice(t *testing.T) {
	w, _ := newWorkflow(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := w.Start(ctx, "desktop", "EX01", "PU-EX01-001")
	require.NoError(t, err)
	_, err = w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)

	errBreak := errors.New("done")
	done := make(chan error, 1)
	go func() {
		done <- w.Poll(ctx, "desktop", func(s Snapshot) error {
			mu.Lock()
			defer mu.Unlock()
			snaps = append(snaps, s)
			if len(s.ItemIDs) == 2 {
				return errBreak
			}
			return nil
		})
	}()

	_, err = w.Scan(ctx, "phone", "IT-1", "EX01")
	require.NoError(t, err)
	_, err = w.Scan(ctx, "phone", "IT-2", "EX01")
	require.NoError(t, err)

	require.ErrorIs(t, <-done, errBreak)

	mu.Lock()
	defer mu.Unlock()
	last := snaps[len(snaps)-1]
	require.Equal(t, []string{"IT-1", "IT-2"}, last.ItemIDs)
	require.True(t, last.Exists)
}

// Параллельные сканы разных образцов не теряют друг друга.
func TestWorkflow_ConcurrentScans(t *testing.T) {
	w, pickups := newWorkflow(t)
	ctx := context.Background()

	_, err := w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)
	_, err = w.Scan(ctx, "phone", "IT-0", "EX01")
	require.NoError(t, err)

	items := []string{"IT-1", "IT-2", "IT-3", "IT-4", "IT-5", "IT-6", "IT-7", "IT-8"}

	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(it string) {
			defer wg.Done()
			_, err := w.Scan(ctx, "phone", it, "EX01")
			require.NoError(t, err)
		}(it)
	}
	wg.Wait()

	p, err := pickups.FindByCode(ctx, "EX01", "PU-EX01-001")
	require.NoError(t, err)
	require.Len(t, p.ItemIDs, len(items)+1)
	require.ElementsMatch(t, append([]string{"IT-0"}, items...), p.ItemIDs)
}

// Существующая подборка используется, а не создаётся заново.
func TestWorkflow_UsesExistingPickup(t *testing.T) {
	w, pickups := newWorkflow(t)
	ctx := context.Background()

	id, err := pickups.Create(ctx, service.CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)

	_, err = w.Start(ctx, "phone", "EX01", "PU-EX01-001")
	require.NoError(t, err)

	res, err := w.Scan(ctx, "phone", "IT-1", "EX01")
	require.NoError(t, err)
	require.Equal(t, id, res.PickupID)
	require.False(t, res.Created)
}

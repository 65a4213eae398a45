package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/storage"
)

const testOrigin = "https://admin.example.com/"

func newPickups(e *testEnv) *Pickups {
	return NewPickups(e.deps, e.items, testOrigin)
}

// Сценарий: две подборки без явного кода -> PU-EX01-001, PU-EX01-002.
func TestPickups_Create_GeneratesSequentialCodes(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id1, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", CustomerName: "ACME"})
	require.NoError(t, err)
	id2, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)

	first, err := p.Get(ctx, id1)
	require.NoError(t, err)
	second, err := p.Get(ctx, id2)
	require.NoError(t, err)

	require.Equal(t, "PU-EX01-001", first.Code)
	require.Equal(t, "PU-EX01-002", second.Code)
	require.Equal(t, models.StatusActive, first.Status)
	require.Equal(t, "ACME", first.CustomerName)

	// Нумерация независима по выставкам.
	id3, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX02"})
	require.NoError(t, err)
	third, err := p.Get(ctx, id3)
	require.NoError(t, err)
	require.Equal(t, "PU-EX02-001", third.Code)
}

// N последовательных кодов: различны, с префиксом выставки и строго растущим суффиксом.
func TestPickups_GenerateCode_Uniqueness(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	re := regexp.MustCompile(`^PU-EX7-(\d+)$`)
	seen := map[string]bool{}
	last := 0

	for i := 0; i < 15; i++ {
		id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX7"})
		require.NoError(t, err)

		got, err := p.Get(ctx, id)
		require.NoError(t, err)

		m := re.FindStringSubmatch(got.Code)
		require.NotNil(t, m, got.Code)
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)

		require.False(t, seen[got.Code])
		require.Greater(t, n, last)
		seen[got.Code] = true
		last = n
	}
}

// Следующий код — от максимального суффикса, «чужие» коды не мешают.
func TestPickups_GenerateCode_FromMax(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	for _, code := range []string{"PU-EX01-007", "PU-EX01-custom", "VIP-1", "PU-EX01-002"} {
		_, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", Code: code})
		require.NoError(t, err)
	}

	code, err := p.GenerateCode(ctx, "EX01")
	require.NoError(t, err)
	require.Equal(t, "PU-EX01-008", code)

	_, err = p.GenerateCode(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCodeSuffix(t *testing.T) {
	tests := []struct {
		code   string
		want   int
		wantOK bool
	}{
		{code: "PU-EX02-041", want: 41, wantOK: true},
		{code: "PU-EX02-0", want: 0, wantOK: true},
		{code: "PU-EX02-+41"},
		{code: "PU-EX02--3"},
		{code: "PU-EX02- 7"},
		{code: "PU-EX02-"},
		{code: "PU-EX03-005"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			n, ok := codeSuffix(tt.code, "PU-EX02-")
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, n)
		})
	}
}

// Код со знаком в суффиксе не влияет на нумерацию.
func TestPickups_GenerateCode_IgnoresSignedSuffix(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	_, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX02", Code: "PU-EX02-+41"})
	require.NoError(t, err)

	code, err := p.GenerateCode(ctx, "EX02")
	require.NoError(t, err)
	require.Equal(t, "PU-EX02-001", code)
}

// После исчерпания попыток — суффикс по времени.
func TestPickups_GenerateCode_FallbackAfterCollisions(t *testing.T) {
	deps, md, _ := newMockDeps(t)
	p := NewPickups(deps, nil, testOrigin)

	existing, err := bson.Marshal(bson.M{"_id": "x", "code": "PU-EX1-001", "exhibition_id": "EX1"})
	require.NoError(t, err)

	md.EXPECT().
		Find(gomock.Any(), storage.Query{
			Collection: models.CollectionPickups,
			Where:      []storage.Filter{{Field: "exhibition_id", Value: "EX1"}},
		}).
		Return([]storage.Row{{ID: "x", Data: existing}}, nil)

	// Каждое предложение «занято».
	md.EXPECT().
		Find(gomock.Any(), gomock.Any()).
		Return([]storage.Row{{ID: "y"}}, nil).
		Times(codeAttempts)

	code, err := p.GenerateCode(context.Background(), "EX1")
	require.NoError(t, err)
	require.Regexp(t, `^PU-EX1-\d{13}$`, code)
}

func TestPickups_Create_ExplicitCodeInUse(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	_, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", Code: "VIP"})
	require.NoError(t, err)

	_, err = p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", Code: "VIP"})
	require.ErrorIs(t, err, ErrCodeInUse)
	require.NotErrorIs(t, err, ErrInvalidArgument)

	// В другой выставке тот же код свободен.
	_, err = p.Create(ctx, CreatePickupInput{ExhibitionID: "EX02", Code: "VIP"})
	require.NoError(t, err)

	_, err = p.Create(ctx, CreatePickupInput{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// Проигранная гонка (уникальный индекс) при явном коде -> ErrCodeInUse.
func TestPickups_Create_ExplicitCodeRace(t *testing.T) {
	deps, md, _ := newMockDeps(t)
	p := NewPickups(deps, nil, testOrigin)

	md.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, nil)
	md.EXPECT().Add(gomock.Any(), models.CollectionPickups, gomock.Any()).Return("", storage.ErrConflict)

	_, err := p.Create(context.Background(), CreatePickupInput{ExhibitionID: "EX1", Code: "C-1"})
	require.ErrorIs(t, err, ErrCodeInUse)
}

// Сгенерированный код перехвачен конкурентом: новая попытка.
func TestPickups_Create_RetriesGeneratedOnConflict(t *testing.T) {
	deps, md, _ := newMockDeps(t)
	p := NewPickups(deps, nil, testOrigin)

	md.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	gomock.InOrder(
		md.EXPECT().Add(gomock.Any(), models.CollectionPickups, gomock.Any()).Return("", storage.ErrConflict),
		md.EXPECT().Add(gomock.Any(), models.CollectionPickups, gomock.Any()).Return("p-1", nil),
	)

	id, err := p.Create(context.Background(), CreatePickupInput{ExhibitionID: "EX1"})
	require.NoError(t, err)
	require.Equal(t, "p-1", id)
}

func TestPickups_Create_GivesUpAfterAttempts(t *testing.T) {
	deps, md, _ := newMockDeps(t)
	p := NewPickups(deps, nil, testOrigin)

	md.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	md.EXPECT().Add(gomock.Any(), gomock.Any(), gomock.Any()).Return("", storage.ErrConflict).Times(createAttempts)

	_, err := p.Create(context.Background(), CreatePickupInput{ExhibitionID: "EX1"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestPickups_Update(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", Code: "TAKEN"})
	require.NoError(t, err)

	before, err := p.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, p.Update(ctx, id, models.Patch{"customer_name": "Boutique"}))

	after, err := p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Boutique", after.CustomerName)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))

	require.ErrorIs(t, p.Update(ctx, id, models.Patch{"code": "TAKEN"}), ErrCodeInUse)
	require.ErrorIs(t, p.Update(ctx, id, models.Patch{"status": "lost"}), ErrInvalidArgument)
}

// item_ids остаётся множеством и при ручной правке.
func TestPickups_Update_ItemIDsStaySet(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", ItemIDs: []string{"IT-1", "IT-1", " "}})
	require.NoError(t, err)

	got, err := p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"IT-1"}, got.ItemIDs)

	tests := []struct {
		name string
		ids  []string
		msg  string
	}{
		{name: "duplicates", ids: []string{"IT-1", "IT-1", "IT-2"}, msg: "must not contain duplicates"},
		{name: "empty id", ids: []string{"IT-1", ""}, msg: "must not contain empty ids"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Update(ctx, id, models.Patch{"item_ids": tt.ids})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.msg, verr.Fields["item_ids"])
		})
	}

	got, err = p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"IT-1"}, got.ItemIDs)

	require.NoError(t, p.Update(ctx, id, models.Patch{"item_ids": []string{"IT-2", "IT-1"}}))

	got, err = p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"IT-2", "IT-1"}, got.ItemIDs)
}

func TestPickups_Share(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	require.Equal(t, "https://admin.example.com/pickup/abc", p.ShareURL("abc"))

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)

	url, err := p.Share(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "https://admin.example.com/pickup/"+id, url)

	got, err := p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, url, got.ShareURL)

	_, err = p.Share(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPickups_AddRemoveItem(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", ItemIDs: []string{"a", "a", " ", "b"}})
	require.NoError(t, err)

	got, err := p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.ItemIDs)

	added, err := p.AddItem(ctx, id, "c")
	require.NoError(t, err)
	require.True(t, added)

	added, err = p.AddItem(ctx, id, "c")
	require.NoError(t, err)
	require.False(t, added)

	removed, err := p.RemoveItem(ctx, id, "a")
	require.NoError(t, err)
	require.True(t, removed)

	got, err = p.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, got.ItemIDs)

	_, err = p.AddItem(ctx, "missing", "x")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = p.AddItem(ctx, id, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPickups_FindByCode(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)

	got, err := p.FindByCode(ctx, "EX01", "PU-EX01-001")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)

	_, err = p.FindByCode(ctx, "EX02", "PU-EX01-001")
	require.ErrorIs(t, err, ErrNotFound)
}

// Публичная страница: только активные подборки, удалённые изделия пропускаются.
func TestPickups_Public(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	it1 := mustCreateItem(t, e.items, "S-1", "Blouse")
	it2 := mustCreateItem(t, e.items, "S-2", "Skirt")

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", ItemIDs: []string{it2, "gone", it1}})
	require.NoError(t, err)

	pub, err := p.Public(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, pub.Pickup.ID)
	require.Len(t, pub.Items, 2)
	require.Equal(t, "Skirt", pub.Items[0].Name)
	require.Equal(t, "Blouse", pub.Items[1].Name)

	require.NoError(t, p.Update(ctx, id, models.Patch{"status": models.StatusArchived}))
	_, err = p.Public(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = p.Public(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// Удаление подборки повторно — не ошибка.
func TestPickups_Delete_Idempotent(t *testing.T) {
	e := newEnv(t)
	p := newPickups(e)
	ctx := context.Background()

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01"})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, id))
	require.NoError(t, p.Delete(ctx, id))
}

func TestPickups_ExportPDF(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exp := &recordingExporter{}
	deps := e.deps
	deps.Exporter = exp
	p := NewPickups(deps, e.items, testOrigin)

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, mustCreateItem(t, e.items, fmt.Sprintf("S-%02d", i), fmt.Sprintf("Item %02d", i)))
	}

	id, err := p.Create(ctx, CreatePickupInput{ExhibitionID: "EX01", CustomerName: "ACME", ItemIDs: ids})
	require.NoError(t, err)

	res, err := p.ExportPDF(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)

	require.Equal(t, "Pickup PU-EX01-001", exp.last.Title)
	require.Equal(t, "ACME", exp.last.Subtitle)
	require.Len(t, exp.last.Cards, 12)
	require.Equal(t, "Item 00", exp.last.Cards[0].Title)
	require.Equal(t, "S-00", exp.last.Cards[0].Subtitle)

	// Без экспортёра — ErrUnavailable.
	_, err = newPickups(e).ExportPDF(ctx, id)
	require.ErrorIs(t, err, ErrUnavailable)
}

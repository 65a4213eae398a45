package service

// Тесты сервисного слоя apparel-admin.
//
//  Проверяем:
//  - контракт каталога (List/Get/Create/Update/Delete, изображения, поиск) на memory-хранилищах;
//  - маппинг ошибок storage -> service на моках (gomock);
//  - жизненный цикл подборок, выставок и выдач образцов.
//
// Подготовка окружения:
//   # 1) Сгенерировать моки интерфейсов хранилища:
//   mockgen -source=./internal/storage/storage.go -destination=./mocks/storage.go -package=mocks
//
//   # 2) Запустить тесты:
//   go test ./internal/service -v -race -count=1

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/imaging"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/search"
	"github.com/pribylovaa/apparel-admin/internal/storage/memory"
	"github.com/pribylovaa/apparel-admin/mocks"
)

var testLimits = config.LimitsConfig{Default: 20, Max: 50}

// testEnv — сервисы поверх memory-хранилищ.
type testEnv struct {
	docs  *memory.Documents
	objs  *memory.Objects
	index *search.Index
	deps  Deps
	items *Catalog[models.Item]
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	idx, err := search.New(search.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	docs := memory.NewDocuments()
	objs := memory.NewObjects("")

	deps := Deps{
		Docs:    docs,
		Objects: objs,
		Images: imaging.New(config.ImagesConfig{
			MaxSizeBytes:        1 << 20,
			MaxDimension:        64,
			AllowedContentTypes: []string{"image/jpeg", "image/png"},
		}),
		Index:     idx,
		Validator: NewValidator(),
		Limits:    testLimits,
	}

	return &testEnv{
		docs:  docs,
		objs:  objs,
		index: idx,
		deps:  deps,
		items: NewCatalog[models.Item](ItemKind, deps),
	}
}

// newMockDeps — зависимости на моках хранилищ.
func newMockDeps(t *testing.T) (Deps, *mocks.MockDocuments, *mocks.MockObjects) {
	t.Helper()

	ctrl := gomock.NewController(t)
	md := mocks.NewMockDocuments(ctrl)
	mo := mocks.NewMockObjects(ctrl)

	return Deps{Docs: md, Objects: mo, Validator: NewValidator(), Limits: testLimits}, md, mo
}

// pngBytes — PNG w×h однотонного цвета.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: 80, B: uint8(y * 3), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mustCreateItem(t *testing.T, c *Catalog[models.Item], sku, name string) string {
	t.Helper()

	id, err := c.Create(context.Background(), models.Item{SKU: sku, Name: name, Price: 1000})
	require.NoError(t, err)
	return id
}

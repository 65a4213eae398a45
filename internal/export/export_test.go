package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/imaging"
)

// stubFetcher — фейковый Fetcher: отдаёт картинку, ошибку или «зависает» до отмены контекста.
type stubFetcher struct {
	data  []byte
	err   error
	hang  bool
	calls atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.calls.Add(1)

	if f.hang {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/jpeg", nil
}

func jpegTile(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.EncodeJPEG(imaging.Flat(32, 32, color.RGBA{R: 200, A: 255}))
	require.NoError(t, err)
	return data
}

func cards(n int, url string) []Card {
	out := make([]Card, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Card{
			Title:    fmt.Sprintf("Item %02d", i),
			Subtitle: fmt.Sprintf("SKU-%02d", i),
			Detail:   "black / M L",
			ImageURL: url,
		})
	}
	return out
}

func newExporter(f Fetcher, timeout time.Duration) *Exporter {
	return New(f, config.ExportConfig{ImageTimeout: timeout, ItemsPerPage: 10})
}

func TestPaginate(t *testing.T) {
	require.Len(t, Paginate(nil, 10), 0)
	require.Len(t, Paginate(cards(10, ""), 10), 1)

	pages := Paginate(cards(12, ""), 10)
	require.Len(t, pages, 2)
	require.Len(t, pages[0], 10)
	require.Len(t, pages[1], 2)
}

// 12 карточек -> обложка + 10 + 2.
func TestExport_TwelveItems_ThreePages(t *testing.T) {
	f := &stubFetcher{data: jpegTile(t)}
	e := newExporter(f, time.Second)

	res, err := e.Export(context.Background(), Document{
		Title:    "Pickup PU-ex1-001",
		Subtitle: "ACME Stores",
		Cards:    cards(12, "memory://objects/items/1/a.jpg"),
	})
	require.NoError(t, err)

	require.Equal(t, 3, res.Pages)
	require.Len(t, res.HTML, 3)
	require.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF")))
	require.Equal(t, 0, res.Placeholders)

	// Одинаковый URL скачивается один раз.
	require.Equal(t, int32(1), f.calls.Load())

	require.Contains(t, res.HTML[0], "Pickup PU-ex1-001")
	require.Contains(t, res.HTML[0], "12 items")
	require.Equal(t, 10, strings.Count(res.HTML[1], `class="card"`))
	require.Equal(t, 2, strings.Count(res.HTML[2], `class="card"`))
	require.Contains(t, res.HTML[2], "data:image/jpeg;base64,")
}

func TestExport_PlaceholderOnTimeout(t *testing.T) {
	e := newExporter(&stubFetcher{hang: true}, 20*time.Millisecond)

	started := time.Now()
	res, err := e.Export(context.Background(), Document{
		Title: "Catalog",
		Cards: cards(3, "memory://objects/slow.jpg"),
	})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 5*time.Second)

	require.Equal(t, 3, res.Placeholders)
	require.Equal(t, 2, res.Pages)
	require.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF")))
}

func TestExport_PlaceholderOnFetchError(t *testing.T) {
	e := newExporter(&stubFetcher{err: errors.New("boom")}, time.Second)

	c := cards(1, "memory://objects/missing.jpg")
	c[0].BlurHash = "LEHV6nWB2yk8pyo0adR*.7kCMdnj"

	res, err := e.Export(context.Background(), Document{Title: "Catalog", Cards: c})
	require.NoError(t, err)
	require.Equal(t, 1, res.Placeholders)
}

func TestExport_NoCards_CoverOnly(t *testing.T) {
	res, err := newExporter(&stubFetcher{}, time.Second).Export(context.Background(), Document{Title: "Empty"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)
	require.Len(t, res.HTML, 1)
	require.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF")))
}

func TestExport_EmptyTitle(t *testing.T) {
	_, err := newExporter(&stubFetcher{}, time.Second).Export(context.Background(), Document{})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestExport_EscapesHTML(t *testing.T) {
	c := cards(1, "")
	c[0].Title = `<script>alert(1)</script>`

	res, err := newExporter(&stubFetcher{}, time.Second).Export(context.Background(), Document{Title: "X", Cards: c})
	require.NoError(t, err)
	require.NotContains(t, res.HTML[1], "<script>")
}

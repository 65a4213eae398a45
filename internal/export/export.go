// Package export строит PDF-документы (подборки, каталоги выставок) из карточек изделий.
//
// Порядок: предзагрузка изображений с таймаутом на каждое (при ошибке — плейсхолдер),
// разбиение на страницы (обложка + по ItemsPerPage карточек), HTML-фрагмент на страницу
// для предпросмотра, растеризация страницы в JPEG 1123x794 и сборка A4 landscape PDF.
package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"sync"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/imaging"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

// Размер растра страницы (A4 landscape, 96 dpi).
const (
	PageWidth  = 1123
	PageHeight = 794
)

// thumbSize — сторона миниатюры карточки.
const thumbSize = 160

// ErrEmpty — документ без заголовка.
var ErrEmpty = errors.New("empty document")

// Card — карточка изделия.
type Card struct {
	Title    string
	Subtitle string
	Detail   string
	ImageURL string
	BlurHash string
}

// Document — входные данные экспорта.
type Document struct {
	Title    string
	Subtitle string
	Cards    []Card
}

// Result — готовый документ.
// HTML — фрагмент на каждую логическую страницу (обложка первая).
// Placeholders — сколько изображений заменено плейсхолдером.
type Result struct {
	PDF          []byte
	Pages        int
	HTML         []string
	Placeholders int
}

// Fetcher скачивает изображение по публичному URL (storage.Objects).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Exporter — генератор PDF.
type Exporter struct {
	fetcher      Fetcher
	imageTimeout time.Duration
	perPage      int
}

// New создаёт Exporter.
func New(fetcher Fetcher, cfg config.ExportConfig) *Exporter {
	perPage := cfg.ItemsPerPage
	if perPage <= 0 {
		perPage = 10
	}

	return &Exporter{fetcher: fetcher, imageTimeout: cfg.ImageTimeout, perPage: perPage}
}

// asset — подготовленное изображение карточки.
type asset struct {
	img         image.Image
	dataURI     string
	placeholder bool
}

// Export строит документ.
func (e *Exporter) Export(ctx context.Context, doc Document) (*Result, error) {
	const op = "export/Export"

	lg := log.From(ctx).With("op", op, "title", doc.Title, "cards", len(doc.Cards))

	if doc.Title == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmpty)
	}

	assets := e.prefetch(ctx, doc.Cards)

	placeholders := 0
	for _, a := range assets {
		if a.placeholder {
			placeholders++
		}
	}

	pages := Paginate(doc.Cards, e.perPage)

	res := &Result{Pages: len(pages) + 1, Placeholders: placeholders}

	cover, err := renderCover(doc)
	if err != nil {
		lg.Error("render cover", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res.HTML = append(res.HTML, cover)

	rasters := [][]byte{}
	raster, err := imaging.EncodeJPEG(rasterCover(doc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rasters = append(rasters, raster)

	for i, cards := range pages {
		offset := i * e.perPage

		html, err := renderPage(doc, i+2, res.Pages, offset, cards, assets)
		if err != nil {
			lg.Error("render page", "page", i+2, "err", err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res.HTML = append(res.HTML, html)

		raster, err := imaging.EncodeJPEG(rasterPage(doc, i+2, res.Pages, offset, cards, assets))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rasters = append(rasters, raster)
	}

	pdf, err := assemble(doc.Title, rasters)
	if err != nil {
		lg.Error("assemble pdf", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res.PDF = pdf

	lg.Info("exported", "pages", res.Pages, "placeholders", placeholders)

	return res, nil
}

// Paginate делит карточки на страницы по perPage.
func Paginate(cards []Card, perPage int) [][]Card {
	var pages [][]Card
	for start := 0; start < len(cards); start += perPage {
		end := min(start+perPage, len(cards))
		pages = append(pages, cards[start:end])
	}
	return pages
}

// prefetch загружает изображения (каждый URL один раз) параллельно.
// Карточки без URL и неудачные загрузки получают плейсхолдер по BlurHash.
func (e *Exporter) prefetch(ctx context.Context, cards []Card) map[int]asset {
	lg := log.From(ctx)

	out := make(map[int]asset, len(cards))

	var urls []string
	seen := make(map[string]bool)
	for _, c := range cards {
		if c.ImageURL != "" && !seen[c.ImageURL] {
			seen[c.ImageURL] = true
			urls = append(urls, c.ImageURL)
		}
	}

	byURL := make(map[string]*asset, len(urls))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			img, err := e.fetch(ctx, url)
			if err != nil {
				lg.Warn("export image fetch failed", "url", url, "err", err)
				return
			}

			a, err := newAsset(img, false)
			if err != nil {
				return
			}

			mu.Lock()
			byURL[url] = a
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	for i, c := range cards {
		if a := byURL[c.ImageURL]; a != nil {
			out[i] = *a
			continue
		}

		a, err := newAsset(imaging.Placeholder(c.BlurHash, thumbSize, thumbSize), true)
		if err != nil {
			continue
		}
		out[i] = *a
	}

	return out
}

func (e *Exporter) fetch(ctx context.Context, url string) (image.Image, error) {
	if e.imageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.imageTimeout)
		defer cancel()
	}

	type fetched struct {
		data []byte
		err  error
	}

	// Fetcher может не уважать контекст: ждём не дольше таймаута.
	ch := make(chan fetched, 1)
	go func() {
		data, _, err := e.fetcher.Fetch(ctx, url)
		ch <- fetched{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-ch:
		if f.err != nil {
			return nil, f.err
		}
		img, _, err := image.Decode(bytes.NewReader(f.data))
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		return img, nil
	}
}

func newAsset(img image.Image, placeholder bool) (*asset, error) {
	img = imaging.Downscale(img, thumbSize)

	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	return &asset{
		img:         img,
		dataURI:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		placeholder: placeholder,
	}, nil
}

// assemble кладёт растры страниц на листы A4 landscape.
func assemble(title string, pages [][]byte) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(false, 0)

	w, h := pdf.GetPageSize()
	opt := fpdf.ImageOptions{ImageType: "JPG"}

	for i, data := range pages {
		name := fmt.Sprintf("page-%d", i+1)

		pdf.AddPage()
		pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(data))
		pdf.ImageOptions(name, 0, 0, w, h, false, opt, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}

	return buf.Bytes(), nil
}

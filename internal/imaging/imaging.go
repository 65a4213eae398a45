// Package imaging готовит загружаемые изображения сущностей к хранению:
// определяет тип по содержимому, уменьшает до предельного размера,
// перекодирует в JPEG и считает BlurHash для плейсхолдеров.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // PNG decoder
	"net/http"

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder

	"github.com/pribylovaa/apparel-admin/internal/config"
)

// JPEGQuality — качество перекодирования.
const JPEGQuality = 85

// blurHashSize — сторона миниатюры для BlurHash: высокое разрешение не нужно.
const blurHashSize = 64

var (
	// ErrUnsupported — тип содержимого не входит в allow-list.
	ErrUnsupported = errors.New("unsupported image format")
	// ErrTooLarge — размер файла больше допустимого.
	ErrTooLarge = errors.New("image too large")
	// ErrEmpty — пустые данные.
	ErrEmpty = errors.New("empty image")
)

// Result — подготовленное изображение.
type Result struct {
	Data        []byte
	ContentType string
	BlurHash    string
	Width       int
	Height      int
}

// Processor — обработчик загрузок с ограничениями из конфига.
type Processor struct {
	maxSize int64
	maxDim  int
	allowed map[string]bool
}

// New создаёт Processor.
func New(cfg config.ImagesConfig) *Processor {
	allowed := make(map[string]bool, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[ct] = true
	}

	return &Processor{maxSize: cfg.MaxSizeBytes, maxDim: cfg.MaxDimension, allowed: allowed}
}

// Process проверяет и перекодирует изображение.
// Тип определяется по байтам, заголовкам клиента не доверяем.
func (p *Processor) Process(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	if p.maxSize > 0 && int64(len(data)) > p.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	detected := http.DetectContentType(data)
	if !p.allowed[detected] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnsupported, err)
	}

	img = Downscale(img, p.maxDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	hash, err := BlurHash(img)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()

	return &Result{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		BlurHash:    hash,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Downscale уменьшает изображение так, чтобы ни одна сторона не превышала maxDim.
// Catmull-Rom; изображение в пределах — возвращается как есть.
func Downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}

	newW, newH = max(newW, 1), max(newH, 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// BlurHash считает BlurHash 4x3 по миниатюре изображения.
func BlurHash(img image.Image) (string, error) {
	hash, err := blurhash.Encode(4, 3, Downscale(img, blurHashSize))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}

	return hash, nil
}

// Placeholder строит изображение w×h из BlurHash.
// Пустой или битый hash — однотонная серая плашка.
func Placeholder(hash string, w, h int) image.Image {
	if hash != "" {
		if img, err := blurhash.Decode(hash, w, h, 1); err == nil {
			return img
		}
	}

	return Flat(w, h, color.Gray{Y: 0xd0})
}

// Flat — однотонное изображение.
func Flat(w, h int, c color.Color) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return dst
}

// EncodeJPEG кодирует изображение в JPEG с качеством по умолчанию.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

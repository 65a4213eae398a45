package export

import (
	"bytes"
	"fmt"
	"html/template"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Сетка карточек на странице.
const (
	gridCols = 5
	gridRows = 2
	margin   = 40
	header   = 60
)

var (
	coverTmpl = template.Must(template.New("cover").Parse(
		`<section class="page cover"><h1>{{.Title}}</h1>{{if .Subtitle}}<h2>{{.Subtitle}}</h2>{{end}}<p>{{.Count}} items</p></section>`))

	pageTmpl = template.Must(template.New("page").Parse(
		`<section class="page"><header>{{.Title}} <span>{{.Number}}/{{.Total}}</span></header><div class="grid">` +
			`{{range .Cards}}<figure class="card"><img src="{{.Src}}" alt="{{.Title}}"><figcaption><b>{{.Title}}</b>` +
			`{{if .Subtitle}}<span>{{.Subtitle}}</span>{{end}}{{if .Detail}}<small>{{.Detail}}</small>{{end}}</figcaption></figure>{{end}}` +
			`</div></section>`))
)

type htmlCard struct {
	Card
	Src template.URL
}

func renderCover(doc Document) (string, error) {
	var buf bytes.Buffer
	err := coverTmpl.Execute(&buf, map[string]any{
		"Title":    doc.Title,
		"Subtitle": doc.Subtitle,
		"Count":    len(doc.Cards),
	})
	if err != nil {
		return "", fmt.Errorf("cover template: %w", err)
	}
	return buf.String(), nil
}

// renderPage — HTML-фрагмент страницы number из total.
// offset — индекс первой карточки страницы в документе (ключ assets).
func renderPage(doc Document, number, total, offset int, cards []Card, assets map[int]asset) (string, error) {
	hc := make([]htmlCard, 0, len(cards))
	for i, c := range cards {
		// dataURI собран нами из JPEG: помечаем как безопасный URL.
		hc = append(hc, htmlCard{Card: c, Src: template.URL(assets[offset+i].dataURI)})
	}

	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, map[string]any{
		"Title":  doc.Title,
		"Number": number,
		"Total":  total,
		"Cards":  hc,
	})
	if err != nil {
		return "", fmt.Errorf("page template: %w", err)
	}
	return buf.String(), nil
}

func blank() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, PageWidth, PageHeight))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	return dst
}

// text пишет строку моноширинным шрифтом 7x13, обрезая по ширине width.
func text(dst draw.Image, x, y, width int, s string, c color.Color) {
	face := basicfont.Face7x13
	maxRunes := width / face.Advance
	if r := []rune(s); maxRunes > 3 && len(r) > maxRunes {
		s = string(r[:maxRunes-3]) + "..."
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func rasterCover(doc Document) image.Image {
	dst := blank()

	text(dst, margin, PageHeight/2-20, PageWidth-2*margin, doc.Title, color.Black)
	if doc.Subtitle != "" {
		text(dst, margin, PageHeight/2+4, PageWidth-2*margin, doc.Subtitle, color.Gray{Y: 0x55})
	}
	text(dst, margin, PageHeight/2+28, PageWidth-2*margin, fmt.Sprintf("%d items", len(doc.Cards)), color.Gray{Y: 0x55})

	return dst
}

func rasterPage(doc Document, number, total, offset int, cards []Card, assets map[int]asset) image.Image {
	dst := blank()

	text(dst, margin, margin, PageWidth-2*margin-80, doc.Title, color.Black)
	text(dst, PageWidth-margin-70, margin, 70, fmt.Sprintf("%d/%d", number, total), color.Gray{Y: 0x55})

	cellW := (PageWidth - 2*margin) / gridCols
	cellH := (PageHeight - margin - header) / gridRows

	for i, c := range cards {
		x := margin + (i%gridCols)*cellW
		y := header + (i/gridCols)*cellH

		if a, ok := assets[offset+i]; ok && a.img != nil {
			side := min(cellW-16, thumbSize)
			rect := image.Rect(x+8, y+8, x+8+side, y+8+side)
			draw.ApproxBiLinear.Scale(dst, rect, a.img, a.img.Bounds(), draw.Over, nil)
		}

		ty := y + thumbSize + 30
		text(dst, x+8, ty, cellW-16, c.Title, color.Black)
		text(dst, x+8, ty+16, cellW-16, c.Subtitle, color.Gray{Y: 0x55})
		text(dst, x+8, ty+32, cellW-16, c.Detail, color.Gray{Y: 0x77})
	}

	return dst
}

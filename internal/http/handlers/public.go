package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/http/middleware"
	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
)

var pickupPage = template.Must(template.New("pickup").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pickup {{.Pickup.Code}}</title></head>
<body>
<h1>Pickup {{.Pickup.Code}}</h1>
{{if .Pickup.CustomerName}}<p>{{.Pickup.CustomerName}}</p>{{end}}
<ul>
{{range .Items}}<li>
{{if .Images}}{{with index .Images 0}}<img src="{{.URL}}" width="160" height="160" alt="">{{end}}{{end}}
<strong>{{.Name}}</strong> {{.SKU}}{{if .Color}} · {{.Color}}{{end}}
</li>
{{else}}<li>No items yet.</li>
{{end}}</ul>
</body></html>
`))

var messagePage = template.Must(template.New("message").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1>{{if .Text}}<p>{{.Text}}</p>{{end}}</body></html>
`))

type message struct {
	Title string
	Text  string
}

// render выполняет шаблон в буфер, чтобы ошибка шаблона не оставила полуответ.
func render(w http.ResponseWriter, r *http.Request, status int, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		logctx.From(r.Context()).Error("render page", "template", t.Name(), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError — страница ошибки с тем же статусом, что и у JSON API.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := apierrors.ToHTTP(err)
	render(w, r, status, messagePage, message{Title: resp.Error.Message})
}

// PublicPickup — GET /pickup/{id}: страница подборки по share-ссылке.
// Неактивная или отсутствующая подборка — страница "not found".
func (h *Handlers) PublicPickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, r, err)
		return
	}

	p, err := h.Pickups.Public(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render(w, r, http.StatusOK, pickupPage, p)
}

// ScanLink — GET /scan?item=&exhibition=: адрес, зашитый в QR-код образца.
// Скан выполняется в сессии устройства (cookie), результат — короткая страница.
func (h *Handlers) ScanLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res, err := h.Scan.Scan(r.Context(), middleware.ClientIDFrom(r.Context()), q.Get("item"), q.Get("exhibition"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	msg := message{Title: "Added to " + res.PickupCode, Text: "Item " + res.ItemID}
	if res.AlreadyAdded {
		msg.Title = "Already in " + res.PickupCode
	}

	render(w, r, http.StatusOK, messagePage, msg)
}

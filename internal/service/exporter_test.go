package service

import (
	"context"

	"github.com/pribylovaa/apparel-admin/internal/export"
)

// recordingExporter запоминает последний документ и считает страницы как Exporter.
type recordingExporter struct {
	last export.Document
}

func (r *recordingExporter) Export(_ context.Context, doc export.Document) (*export.Result, error) {
	r.last = doc
	pages := len(export.Paginate(doc.Cards, 10)) + 1
	return &export.Result{PDF: []byte("%PDF-1.3"), Pages: pages}, nil
}

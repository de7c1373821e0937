package report

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"time"

	"github.com/rentdesk/rentdesk/internal/ledger"
)

//go:embed templates/*.html
var templateFS embed.FS

var receiptTemplate = template.Must(template.New("receipt.html").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("January 2, 2006") },
}).ParseFS(templateFS, "templates/receipt.html"))

// ReceiptRenderer turns ledger receipts into PDFs.
type ReceiptRenderer struct {
	client *Client
}

// NewReceiptRenderer binds the receipt template to a Gotenberg client.
func NewReceiptRenderer(client *Client) *ReceiptRenderer {
	return &ReceiptRenderer{client: client}
}

// ReceiptHTML renders the receipt page.
func ReceiptHTML(rec ledger.Receipt) ([]byte, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderReceipt produces the printable PDF for rec.
func (r *ReceiptRenderer) RenderReceipt(ctx context.Context, rec ledger.Receipt) ([]byte, error) {
	html, err := ReceiptHTML(rec)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

package rfq

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
)

var quoteTmpl = htmltemplate.Must(htmltemplate.New("quote").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Quote {{.QuoteNumber}}</title>
<style>
  body { font-family: Arial, sans-serif; margin: 40px; color: #222; }
  h1 { font-size: 20px; }
  table { border-collapse: collapse; width: 100%; margin-top: 16px; }
  th, td { border: 1px solid #ccc; padding: 8px; text-align: left; }
  th { background: #f4f4f4; }
  .meta td { border: none; padding: 2px 8px 2px 0; }
  .total { font-weight: bold; }
  @media print { body { margin: 10px; } }
</style>
</head>
<body>
<h1>Quote {{.QuoteNumber}}</h1>
<table class="meta">
  <tr><td>Date:</td><td>{{.QuoteDate}}</td></tr>
  <tr><td>Valid until:</td><td>{{.ValidUntil}}</td></tr>
  <tr><td>Contact:</td><td>{{.ContactName}}</td></tr>
  {{if .ContactEmail}}<tr><td>Email:</td><td>{{.ContactEmail}}</td></tr>{{end}}
  <tr><td>Ship to:</td><td>{{.ShipTo}}</td></tr>
  {{if .DeliveryDate}}<tr><td>Delivery:</td><td>{{.DeliveryDate}}</td></tr>{{end}}
</table>
<table>
  <tr><th>SKU</th><th>Description</th><th>Qty</th><th>Unit</th><th>Unit price</th><th>Line total</th></tr>
  {{range .Lines}}
  <tr>
    <td>{{.SKU}}</td><td>{{.Name}}</td><td>{{.Qty}}</td><td>{{.Unit}}</td>
    <td>{{.PriceDisplay}}</td>
    <td>{{.LineTotalDisplay}}</td>
  </tr>
  {{end}}
  <tr class="total"><td colspan="5">Total</td><td>{{.TotalDisplay}}</td></tr>
</table>
{{if .Notes}}<p>{{.Notes}}</p>{{end}}
</body>
</html>`))

// RenderDocument returns a self-contained printable HTML document for a
// quote, used by the download endpoint.
func RenderDocument(q *Quote) (string, error) {
	var sb strings.Builder
	if err := quoteTmpl.Execute(&sb, q); err != nil {
		return "", fmt.Errorf("render quote: %w", err)
	}
	return sb.String(), nil
}

// RenderEmail renders the plain-text email body for a quote.
func RenderEmail(q *Quote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hello %s,\n\nPlease find your quote %s below.\n\n", q.ContactName, q.QuoteNumber)
	for _, l := range q.Lines {
		price := "TBD"
		if l.UnitPrice != nil {
			price = fmt.Sprintf("%.2f", *l.UnitPrice)
		}
		lineTotal := "TBD"
		if l.LineTotal != nil {
			lineTotal = fmt.Sprintf("%.2f", *l.LineTotal)
		}
		fmt.Fprintf(&sb, "  %s  x%g  @ %s  = %s\n", l.SKU, l.Qty, price, lineTotal)
	}
	fmt.Fprintf(&sb, "\nTotal: %s\nShip to: %s\nValid until: %s\n\nBest regards", q.TotalDisplay(), q.ShipTo, q.ValidUntil)
	return sb.String()
}

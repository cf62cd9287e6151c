// Package notify emails the operations team when variant inventory drops to
// or below the restock threshold.
package notify

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"strings"

	"storefront-svc/mailer"
	"storefront-svc/models"

	"go.uber.org/zap"
)

// Threshold is the stock level at or below which a variant is reported.
const Threshold = 5

// criticalLevel is where the rendered row switches to the urgent styling.
const criticalLevel = 2

var summaryTmpl = template.Must(template.New("lowstock").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Alerta de estoque baixo</h2>
  <p>Os seguintes itens estão com estoque em nível {{if .HasCritical}}crítico{{else}}baixo{{end}}:</p>
  <table style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;">
      <th style="text-align: left; padding: 8px;">Produto</th>
      <th style="text-align: left; padding: 8px;">Variante</th>
      <th style="text-align: left; padding: 8px;">Estoque</th>
    </tr>
    {{range .Items}}
    <tr>
      <td style="padding: 8px;">{{.ProductName}} <small>({{.ProductID}})</small></td>
      <td style="padding: 8px;">{{.Variant}}</td>
      <td style="padding: 8px; font-weight: bold; color: {{if .Critical}}#c0392b{{else}}#e67e22{{end}};">{{.CurrentStock}} unid.</td>
    </tr>
    {{end}}
  </table>
  <p>Reponha o estoque para evitar vendas perdidas.</p>
</body>
</html>`))

type tmplItem struct {
	ProductName  string
	ProductID    string
	Variant      string
	CurrentStock int
	Critical     bool
}

type LowStockNotifier struct {
	sender mailer.Sender
	from   string
	to     string
	logger *zap.Logger
}

func NewLowStockNotifier(sender mailer.Sender, logger *zap.Logger) *LowStockNotifier {
	return &LowStockNotifier{
		sender: sender,
		from:   getEnv("LOW_STOCK_EMAIL_FROM", "Praia Viva <pedidos@praiaviva.com.br>"),
		to:     getEnv("LOW_STOCK_EMAIL_TO", "estoque@praiaviva.com.br"),
		logger: logger,
	}
}

// Notify renders and sends one summary email for the given depleted variants.
// An empty list is a no-op and returns an empty message id.
func (n *LowStockNotifier) Notify(ctx context.Context, items []models.LowStockItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	html, err := RenderHTML(items)
	if err != nil {
		return "", fmt.Errorf("failed to render low stock summary: %w", err)
	}

	subject := fmt.Sprintf("Alerta de estoque baixo: %d item(ns)", len(items))
	id, err := n.sender.Send(ctx, n.from, n.to, subject, html)
	if err != nil {
		return "", err
	}

	n.logger.Info("Low stock alert sent",
		zap.Int("items", len(items)),
		zap.String("message_id", id),
	)
	return id, nil
}

func RenderHTML(items []models.LowStockItem) (string, error) {
	data := struct {
		Items       []tmplItem
		HasCritical bool
	}{}

	for _, item := range items {
		row := tmplItem{
			ProductName:  item.ProductName,
			ProductID:    item.ProductID,
			Variant:      variantLabel(item),
			CurrentStock: item.CurrentStock,
			Critical:     item.CurrentStock <= criticalLevel,
		}
		if row.Critical {
			data.HasCritical = true
		}
		data.Items = append(data.Items, row)
	}

	var buf strings.Builder
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func variantLabel(item models.LowStockItem) string {
	parts := make([]string, 0, 2)
	if item.Color != "" {
		parts = append(parts, item.Color)
	}
	if item.Model != "" {
		parts = append(parts, item.Model)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " / ")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

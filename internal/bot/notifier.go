package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dealbot/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultBatchSize is the number of matches per message when none is set.
const DefaultBatchSize = 10

// Notifier sends deal alerts to a Telegram chat, splitting large batches
// into several messages.
type Notifier struct {
	api       sender
	chatID    int64
	batchSize int
	logger    *slog.Logger
}

// NewNotifier creates a notifier for chatID.
func NewNotifier(api sender, chatID int64, batchSize int, logger *slog.Logger) *Notifier {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		api:       api,
		chatID:    chatID,
		batchSize: batchSize,
		logger:    logger.With("component", "notifier"),
	}
}

// Notify sends the alert, one message per chunk of matches. The first failed
// chunk aborts the rest; the returned *models.DeliveryError counts the
// matches of the chunks sent before it.
func (n *Notifier) Notify(ctx context.Context, alert models.Alert) error {
	chunks := chunk(alert.Matches, n.batchSize)
	delivered := 0
	for i, matches := range chunks {
		if err := ctx.Err(); err != nil {
			return &models.DeliveryError{Delivered: delivered, Err: err}
		}
		text := FormatAlert(alert, matches, i+1, len(chunks))
		if err := sendHTML(n.api, n.chatID, text, n.logger); err != nil {
			return &models.DeliveryError{
				Delivered: delivered,
				Err:       fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err),
			}
		}
		delivered += len(matches)
	}
	n.logger.Info("alert sent", "product", alert.ProductID, "matches", len(alert.Matches), "messages", len(chunks))
	return nil
}

// LogNotifier writes alerts to the log instead of sending them. It is used
// for dry runs.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs every match of the alert.
func (n LogNotifier) Notify(_ context.Context, alert models.Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range alert.Matches {
		attrs := []any{
			"product", alert.ProductID,
			"marketplace", m.Listing.Marketplace,
			"listing", m.Listing.ID,
			"title", m.Listing.Title,
			"price", m.EffectivePrice,
			"url", m.Listing.URL,
		}
		if m.PriceDrop != nil {
			attrs = append(attrs, "previous", m.PriceDrop.Previous, "drop", m.PriceDrop.Drop)
		}
		if m.ShippingCaveat != "" {
			attrs = append(attrs, "caveat", m.ShippingCaveat)
		}
		logger.Info("deal", attrs...)
	}
	return nil
}

func chunk(matches []models.Match, size int) [][]models.Match {
	var chunks [][]models.Match
	for start := 0; start < len(matches); start += size {
		end := start + size
		if end > len(matches) {
			end = len(matches)
		}
		chunks = append(chunks, matches[start:end])
	}
	return chunks
}

// FormatAlert renders one message of an alert as Telegram HTML. part and
// total number the messages of a split alert.
func FormatAlert(alert models.Alert, matches []models.Match, part, total int) string {
	var b strings.Builder

	noun := "deals"
	if len(alert.Matches) == 1 {
		noun = "deal"
	}
	fmt.Fprintf(&b, "🎉 <b>%s</b>: %d %s at or under %s\n",
		escapeHTML(alert.ProductName), len(alert.Matches), noun, money(alert.Threshold))
	if total > 1 {
		fmt.Fprintf(&b, "<i>part %d/%d</i>\n", part, total)
	}

	for _, m := range matches {
		b.WriteString("\n")
		fmt.Fprintf(&b, "💰 <b>%s</b> on %s", money(m.EffectivePrice), escapeHTML(m.Listing.Marketplace))
		if m.Listing.Condition != "" {
			fmt.Fprintf(&b, " (%s)", escapeHTML(m.Listing.Condition))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "📦 <a href=\"%s\">%s</a>\n", escapeHTML(m.Listing.URL), escapeHTML(m.Listing.Title))
		if m.PriceDrop != nil {
			fmt.Fprintf(&b, "📉 was %s, down %s\n", money(m.PriceDrop.Previous), money(m.PriceDrop.Drop))
		}
		if m.ShippingCaveat != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", escapeHTML(m.ShippingCaveat))
		}
	}

	return b.String()
}

func money(amount float64) string {
	return "$" + decimal.NewFromFloat(amount).StringFixed(2)
}

// escapeHTML escapes the characters Telegram's HTML mode treats specially.
func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = strings.ReplaceAll(text, `"`, "&quot;")
	return text
}

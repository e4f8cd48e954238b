package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dealbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RunReader reads the run history.
type RunReader interface {
	LatestRun(ctx context.Context) (*models.RunSummary, error)
}

// Watcher is the running monitor as seen by the chat commands.
type Watcher interface {
	Products() []models.ProductRule
	Trigger() bool
}

// Handler answers chat commands.
type Handler struct {
	api              sender
	runs             RunReader
	watcher          Watcher
	authorizedChatID int64
	logger           *slog.Logger
}

// NewHandler creates a command handler. A zero authorizedChatID accepts
// commands from any chat.
func NewHandler(api sender, runs RunReader, watcher Watcher, authorizedChatID int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		api:              api,
		runs:             runs,
		watcher:          watcher,
		authorizedChatID: authorizedChatID,
		logger:           logger.With("component", "commands"),
	}
}

// SetupCommands receives updates until ctx is done and dispatches commands
// to h.
func SetupCommands(ctx context.Context, api *tgbotapi.BotAPI, h *Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				h.Handle(ctx, update.Message)
			}
		}
	}
}

// Handle answers one message.
func (h *Handler) Handle(ctx context.Context, message *tgbotapi.Message) {
	parts := strings.Fields(message.Text)
	if len(parts) == 0 {
		return
	}

	command := strings.ToLower(parts[0])
	// Strip the @botname suffix used in group chats.
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}

	chatID := message.Chat.ID
	isPublicCommand := command == "/start" || command == "/help"
	if !isPublicCommand && h.authorizedChatID != 0 && chatID != h.authorizedChatID {
		h.reply(chatID, "You are not authorized to use this bot.")
		return
	}

	switch command {
	case "/start", "/help":
		h.reply(chatID, helpText)
	case "/status":
		h.reply(chatID, h.status(ctx))
	case "/products":
		h.reply(chatID, FormatProducts(h.watcher.Products()))
	case "/run":
		if h.watcher.Trigger() {
			h.reply(chatID, "⏳ Run queued.")
		} else {
			h.reply(chatID, "A run is already queued.")
		}
	default:
		h.reply(chatID, "Unknown command. Use /help to list the commands.")
	}
}

const helpText = `🤖 <b>Deal monitor</b>

<b>/status</b> - Summary of the last run
<b>/products</b> - Watched products and price limits
<b>/run</b> - Check the marketplaces now
<b>/help</b> - Show this message
`

func (h *Handler) status(ctx context.Context) string {
	run, err := h.runs.LatestRun(ctx)
	if errors.Is(err, models.ErrNoRuns) {
		return "No runs yet."
	}
	if err != nil {
		h.logger.Error("read latest run", "error", err)
		return "❌ Could not read the run history."
	}
	return FormatStatus(*run)
}

func (h *Handler) reply(chatID int64, text string) {
	if err := sendHTML(h.api, chatID, text, h.logger); err != nil {
		h.logger.Error("reply failed", "chat_id", chatID, "error", err)
	}
}

// FormatStatus renders a run summary.
func FormatStatus(run models.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Last run</b> %s (%s)\n",
		run.Timestamp.UTC().Format("2006-01-02 15:04 UTC"), run.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Scanned %d, matched %d, alerted %d, sold %d\n", run.Scanned, run.Matched, run.Alerted, run.Sold)

	for _, p := range run.Products {
		fmt.Fprintf(&b, "\n<b>%s</b>: %d under %s", escapeHTML(p.Name), len(p.Matches), money(p.Threshold))
		if p.Stats.Median != nil {
			fmt.Fprintf(&b, ", market median %s over %d", money(*p.Stats.Median), p.Stats.Count)
		}
		b.WriteString("\n")
	}

	if len(run.Errors) > 0 {
		b.WriteString("\n⚠️ <b>Errors</b>\n")
		for _, e := range run.Errors {
			fmt.Fprintf(&b, "%s/%s: %s\n", escapeHTML(e.Marketplace), escapeHTML(e.ProductID), escapeHTML(e.Message))
		}
	}
	return b.String()
}

// FormatProducts renders the watched product rules.
func FormatProducts(products []models.ProductRule) string {
	if len(products) == 0 {
		return "📋 No products are being watched."
	}

	var b strings.Builder
	b.WriteString("📋 <b>Watched products</b>\n")
	for _, p := range products {
		fmt.Fprintf(&b, "\n🆔 <b>%s</b> %s\n", escapeHTML(p.ID), escapeHTML(p.Name))
		if p.MinPrice != nil {
			fmt.Fprintf(&b, "🎯 %s to %s\n", money(*p.MinPrice), money(p.MaxPrice))
		} else {
			fmt.Fprintf(&b, "🎯 up to %s\n", money(p.MaxPrice))
		}
		fmt.Fprintf(&b, "🛒 %s\n", escapeHTML(strings.Join(p.Marketplaces, ", ")))
	}
	return b.String()
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"humanloop/pkg/bus"
	"humanloop/pkg/channel"
	"humanloop/pkg/config"
)

const (
	channelName         = "telegram"
	messagePreviewLimit = 240
	maxMessageRunes     = 4096 // Telegram Bot API limit for one text message
	longPollingTimeout  = 30
)

var _ channel.Transport = (*Adapter)(nil)

// Adapter bridges Telegram updates and sends into humanloop.
type Adapter struct {
	bot *telego.Bot
	log *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.telegram")

	bot, err := telego.NewBot(token, telego.WithLogger(botLogger{log: log}))
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{bot: bot, log: log}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Send delivers text to one chat, splitting it at the Telegram size limit.
func (a *Adapter) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send telegram message to chat %d: %w", chatID, err)
		}
	}

	a.log.Debug("Sent message", "chat_id", chatID, "content", previewText(text))
	return nil
}

// Run starts Telegram long polling and forwards messages into sink in arrival order.
func (a *Adapter) Run(ctx context.Context, sink channel.Sink) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        longPollingTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := inboundFromUpdate(update)
			if !ok {
				continue
			}
			a.log.Debug("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "content", previewText(inbound.Text))

			if !sink(ctx, inbound) {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("inbound queue closed")
			}
		}
	}
}

// inboundFromUpdate maps a Telegram update to a bus event. Updates without a
// message are skipped; messages without text become events with empty text.
func inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}

	inbound := bus.InboundMessage{
		Channel: channelName,
		ChatID:  message.Chat.ID,
		Text:    text,
		Metadata: map[string]string{
			"update_id":  strconv.Itoa(update.UpdateID),
			"message_id": strconv.Itoa(message.MessageID),
		},
	}
	if message.From != nil {
		inbound.SenderID = message.From.ID
	}

	return inbound, true
}

// splitMessage cuts text into pieces of at most limit runes.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}

// botLogger routes telego's internal logging into slog so nothing reaches stdout.
type botLogger struct {
	log *slog.Logger
}

func (l botLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l botLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

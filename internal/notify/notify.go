// Package notify announces terminal run events over Telegram. Send-only:
// the engine has no inbound chat surface.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"conclave/internal/config"
	"conclave/internal/engine"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// telegramMaxLen is Telegram's hard message size limit.
const telegramMaxLen = 4096

type Notifier struct {
	bot    *telego.Bot
	chatID int64
}

func New(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram notifier needs token and chat_id")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Sink returns an event sink announcing run completions. Non-terminal
// events pass through silently; sends happen on their own goroutine so the
// emitter never blocks on Telegram.
func (n *Notifier) Sink() engine.EventSink {
	return func(ev engine.Event) {
		if ev.Type != engine.EventRunComplete {
			return
		}
		status, _ := ev.Payload["status"].(string)
		elapsed, _ := ev.Payload["elapsed"].(string)
		text := fmt.Sprintf("run %s finished: %s (%s)", ev.RunID, status, elapsed)
		go func() {
			if err := n.send(context.Background(), text); err != nil {
				slog.Error("telegram notify failed", "run", ev.RunID, "error", err)
			}
		}()
	}
}

func (n *Notifier) send(ctx context.Context, text string) error {
	for _, chunk := range chunk(text, telegramMaxLen) {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// chunk splits text into pieces under maxLen, preferring newline breaks.
func chunk(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var out []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			out = append(out, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		out = append(out, text[:cutAt])
		text = text[cutAt:]
	}
	return out
}

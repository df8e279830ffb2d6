// Package telegram provides an optional Telegram front-end that routes
// private-chat messages into the chat pipeline. It is enabled only when a
// bot token is configured.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/contextchat/contextchat/internal/chat"
	"github.com/contextchat/contextchat/internal/config"
)

const replyTimeout = 10 * time.Second

// ChatService is the part of the chat pipeline the front-end needs.
type ChatService interface {
	SendMessage(ctx context.Context, userID, message string, settings chat.Settings) (string, error)
}

// Frontend wraps a Telegram bot that forwards messages to the chat service.
type Frontend struct {
	bot    *tgbot.Bot
	logger *slog.Logger
}

// New creates the Telegram front-end. Telegram has no per-user settings
// surface, so every exchange uses the configured chat defaults.
func New(token string, defaults config.ChatConfig, service ChatService, logger *slog.Logger) (*Frontend, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_frontend")

	settings := chat.Settings{
		SystemInstructions: defaults.SystemInstructions,
		PromptPrefix:       defaults.PromptPrefix,
		Temperature:        defaults.Temperature,
	}

	handler := func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		handleUpdate(ctx, b, update, service, settings, log)
	}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(handler))
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram front-end created successfully")
	return &Frontend{bot: b, logger: log}, nil
}

// Run starts long polling and blocks until the context is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	f.logger.Info("Starting Telegram listener...")
	f.bot.Start(ctx)
	f.logger.Info("Telegram listener stopped.")
	return nil
}

func handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update, service ChatService, settings chat.Settings, log *slog.Logger) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message, empty text, or nil sender", "update_id", update.ID)
		return
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}

	chatID := msg.Chat.ID
	userID := strconv.FormatInt(msg.From.ID, 10)

	_, _ = b.SendChatAction(ctx, &tgbot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	reply, err := service.SendMessage(ctx, userID, msg.Text, settings)
	if err != nil {
		log.ErrorContext(ctx, "Chat pipeline failed for Telegram message", "user_id", userID, "error", err)
		text := "An error occurred. Please try again later."
		if errors.Is(err, chat.ErrBackendFailure) {
			text = "Response generation failed, please retry."
		}
		sendReply(ctx, b, chatID, msg.ID, text, log)
		return
	}

	sendReply(ctx, b, chatID, msg.ID, reply, log)
}

func sendReply(ctx context.Context, b *tgbot.Bot, chatID int64, replyTo int, text string, log *slog.Logger) {
	if ctx.Err() != nil {
		log.WarnContext(ctx, "Context cancelled before sending reply", "chat_id", chatID)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if _, err := b.SendMessage(sendCtx, &tgbot.SendMessageParams{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: replyTo},
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send Telegram reply", "error", err, "chat_id", chatID)
	}
}

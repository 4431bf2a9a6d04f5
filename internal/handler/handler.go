// Package handler orchestrates one conversational turn: gate on
// addressing, update the session, call the completion provider, and
// deliver the reply in chunks.
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/addhe/telegram-bot/internal/addressing"
	"github.com/addhe/telegram-bot/internal/chunk"
	"github.com/addhe/telegram-bot/internal/session"
	"github.com/addhe/telegram-bot/llm"
)

const (
	// Persona seeds every new session's system turn.
	Persona = "You are a helpful assistant."

	// FailureReply is delivered in place of a reply when the provider
	// call fails. The failed turn's user message stays in history.
	FailureReply = "Sorry, I couldn't process that request."

	// WelcomeMessage answers the /start command.
	WelcomeMessage = "Welcome to Awan Telegram Bot, Powered by ChatGPT"
)

// Gateway is the outbound half of the messaging platform.
type Gateway interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Turn is one inbound message as seen by the handler.
type Turn struct {
	ChatID    int64
	ChatKind  addressing.ChatKind
	Text      string
	BotHandle string
}

type Handler struct {
	Store   *session.Store
	Client  llm.Client
	Gateway Gateway
	Logger  *slog.Logger

	Model        string
	MaxTokens    int
	Temperature  float64
	MessageLimit int
}

// HandleTurn runs the full turn pipeline for one inbound message.
// A provider failure is converted into FailureReply and does not
// propagate; delivery failures do.
func (h *Handler) HandleTurn(ctx context.Context, turn Turn) error {
	logger := h.logger().With(
		"turn_id", uuid.NewString(),
		"chat_id", turn.ChatID,
		"chat_kind", string(turn.ChatKind),
	)

	if !addressing.ShouldRespond(turn.ChatKind, turn.Text, turn.BotHandle) {
		logger.Debug("turn_dropped", "reason", "not_addressed")
		return nil
	}

	h.Store.AppendUser(turn.ChatID, turn.Text)
	prompt := h.Store.GetOrCreate(turn.ChatID)

	reply := FailureReply
	res, err := h.Client.Chat(ctx, llm.Request{
		Model:       h.Model,
		Messages:    prompt,
		MaxTokens:   h.MaxTokens,
		Temperature: h.Temperature,
	})
	if err != nil {
		logger.Warn("turn_completion_error", "error", err.Error())
	} else {
		reply = res.Text
		if appendErr := h.Store.AppendAssistant(turn.ChatID, reply); appendErr != nil {
			return fmt.Errorf("append assistant turn: %w", appendErr)
		}
		logger.Info("turn_completed",
			"prompt_turns", len(prompt),
			"reply_len", len(reply),
			"input_tokens", res.Usage.InputTokens,
			"output_tokens", res.Usage.OutputTokens,
			"duration", res.Duration.String(),
		)
	}

	for i, segment := range chunk.Split(reply, h.MessageLimit) {
		if err := h.Gateway.Send(ctx, turn.ChatID, segment); err != nil {
			logger.Warn("turn_send_error", "segment", i, "error", err.Error())
			return fmt.Errorf("send reply segment %d: %w", i, err)
		}
	}
	return nil
}

// Greet answers an explicit start command with the fixed welcome string.
func (h *Handler) Greet(ctx context.Context, chatID int64) error {
	return h.Gateway.Send(ctx, chatID, WelcomeMessage)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

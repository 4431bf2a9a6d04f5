package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/addhe/telegram-bot/internal/addressing"
	"github.com/addhe/telegram-bot/internal/handler"
	"github.com/addhe/telegram-bot/internal/session"
	"github.com/addhe/telegram-bot/internal/worker"
)

type Options struct {
	PollTimeout    time.Duration
	TaskTimeout    time.Duration
	MaxConcurrency int
	AllowedChatIDs []int64
	Logger         *slog.Logger
}

// Runtime owns the long-poll loop: it receives updates, dispatches
// commands, and feeds conversational messages to per-chat workers so
// turns for one chat are handled strictly in arrival order.
type Runtime struct {
	api     *API
	handler *handler.Handler
	store   *session.Store
	opts    Options
}

func NewRuntime(api *API, h *handler.Handler, store *session.Store, opts Options) *Runtime {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	return &Runtime{api: api, handler: h, store: store, opts: opts}
}

type turnJob struct {
	ChatID   int64
	ChatKind addressing.ChatKind
	Text     string
	Version  uint64
}

type chatWorker struct {
	Jobs    chan turnJob
	Version uint64
}

// Run polls until the context is canceled. getUpdates failures are
// retried after a short sleep; they never stop the loop.
func (r *Runtime) Run(ctx context.Context) error {
	logger := r.opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[int64]bool)
	for _, id := range r.opts.AllowedChatIDs {
		if id != 0 {
			allowed[id] = true
		}
	}

	var me *User
	for {
		var err error
		me, err = r.api.GetMe(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			logger.Info("telegram_stop", "reason", "context_canceled")
			return nil
		}
		logger.Warn("telegram_get_me_error", "error", err.Error())
		select {
		case <-ctx.Done():
			logger.Info("telegram_stop", "reason", "context_canceled")
			return nil
		case <-time.After(2 * time.Second):
		}
	}
	botUser := me.Username

	var (
		mu      sync.Mutex
		workers = make(map[int64]*chatWorker)
		offset  int64
	)
	sem := make(chan struct{}, r.opts.MaxConcurrency)
	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	logger.Info("telegram_start",
		"bot_username", botUser,
		"bot_id", me.ID,
		"poll_timeout", r.opts.PollTimeout.String(),
		"task_timeout", r.opts.TaskTimeout.String(),
		"max_concurrency", r.opts.MaxConcurrency,
		"allowed_chat_ids", len(allowed),
	)

	getOrStartWorkerLocked := func(chatID int64) *chatWorker {
		if w, ok := workers[chatID]; ok && w != nil {
			return w
		}
		w := &chatWorker{Jobs: make(chan turnJob, 16)}
		workers[chatID] = w

		worker.Start(worker.StartOptions[turnJob]{
			Ctx:  workersCtx,
			Sem:  sem,
			Jobs: w.Jobs,
			Handle: func(workerCtx context.Context, job turnJob) {
				mu.Lock()
				curVersion := w.Version
				mu.Unlock()
				// A /reset after this job was queued invalidates it.
				if job.Version != curVersion {
					logger.Debug("telegram_job_stale", "chat_id", job.ChatID)
					return
				}

				_ = r.api.SendChatAction(workerCtx, job.ChatID, "typing")

				runCtx, cancel := context.WithTimeout(workerCtx, r.opts.TaskTimeout)
				err := r.handler.HandleTurn(runCtx, handler.Turn{
					ChatID:    job.ChatID,
					ChatKind:  job.ChatKind,
					Text:      job.Text,
					BotHandle: botUser,
				})
				cancel()
				if err != nil && workerCtx.Err() == nil {
					logger.Warn("telegram_turn_error", "chat_id", job.ChatID, "error", err.Error())
				}
			},
		})
		return w
	}

	for {
		updates, nextOffset, err := r.api.GetUpdates(ctx, offset, r.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("telegram_stop", "reason", "context_canceled")
				return nil
			}
			if isPollTimeoutError(err) {
				logger.Debug("telegram_get_updates_timeout", "error", err.Error())
			} else {
				logger.Warn("telegram_get_updates_error", "error", err.Error())
			}
			time.Sleep(1 * time.Second)
			continue
		}
		offset = nextOffset

		for _, u := range updates {
			msg := pickMessage(u)
			if msg == nil || msg.Chat == nil {
				continue
			}
			chatID := msg.Chat.ID
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			if msg.From != nil && msg.From.IsBot {
				continue
			}
			if len(allowed) > 0 && !allowed[chatID] {
				logger.Warn("telegram_unauthorized_chat", "chat_id", chatID)
				_ = r.api.Send(ctx, chatID, "unauthorized")
				continue
			}

			chatType := strings.ToLower(strings.TrimSpace(msg.Chat.Type))
			kind := chatKindOf(chatType)

			cmdWord, _ := splitCommand(text)
			switch normalizeSlashCommand(cmdWord) {
			case "/start", "/help":
				if err := r.handler.Greet(ctx, chatID); err != nil {
					logger.Warn("telegram_send_error", "chat_id", chatID, "error", err.Error())
				}
				continue
			case "/id":
				_ = r.api.Send(ctx, chatID, fmt.Sprintf("chat_id=%d type=%s", chatID, chatType))
				continue
			case "/reset":
				mu.Lock()
				r.store.Reset(chatID)
				if w := getOrStartWorkerLocked(chatID); w != nil {
					w.Version++
				}
				mu.Unlock()
				_ = r.api.Send(ctx, chatID, "ok (reset)")
				continue
			}

			mu.Lock()
			w := getOrStartWorkerLocked(chatID)
			v := w.Version
			mu.Unlock()

			logger.Info("telegram_task_enqueued",
				"chat_id", chatID,
				"type", chatType,
				"text_len", len(text),
			)
			job := turnJob{ChatID: chatID, ChatKind: kind, Text: text, Version: v}
			if err := worker.Enqueue(ctx, workersCtx, w.Jobs, job); err != nil {
				logger.Warn("telegram_enqueue_error", "chat_id", chatID, "error", err.Error())
			}
		}
	}
}

// pickMessage selects the message payload from whichever update variant
// carries it.
func pickMessage(u Update) *Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost
	default:
		return nil
	}
}

// chatKindOf maps Telegram chat types onto the addressing policy's two
// kinds: private chats are direct, every multi-party type is a group.
func chatKindOf(chatType string) addressing.ChatKind {
	if chatType == "private" {
		return addressing.ChatDirect
	}
	return addressing.ChatGroup
}

func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	// Allow "/cmd@BotName" variants by stripping "@...".
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

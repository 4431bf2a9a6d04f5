package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/addhe/telegram-bot/internal/chunk"
	"github.com/addhe/telegram-bot/internal/handler"
	"github.com/addhe/telegram-bot/internal/logutil"
	"github.com/addhe/telegram-bot/internal/session"
	"github.com/addhe/telegram-bot/internal/telegram"
	"github.com/addhe/telegram-bot/providers/openai"
)

const (
	envPrefix = "AWAN_BOT"
)

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "awanbot",
		Short:        "Telegram chat bot backed by an OpenAI-compatible completion API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd)
		},
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")
	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().Duration("telegram-poll-timeout", 30*time.Second, "Long-poll timeout for getUpdates.")
	cmd.Flags().Duration("telegram-task-timeout", 2*time.Minute, "Per-turn timeout covering the completion call.")
	cmd.Flags().Int("telegram-max-concurrency", 3, "Max turns handled concurrently across chats.")
	cmd.Flags().Int("telegram-message-limit", chunk.DefaultLimit, "Max characters per outbound message.")
	cmd.Flags().StringSlice("telegram-allowed-chat-id", nil, "Restrict the bot to these chat IDs (repeatable; empty = open).")
	_ = viper.BindPFlag("telegram.bot_token", cmd.Flags().Lookup("telegram-bot-token"))
	_ = viper.BindPFlag("telegram.poll_timeout", cmd.Flags().Lookup("telegram-poll-timeout"))
	_ = viper.BindPFlag("telegram.task_timeout", cmd.Flags().Lookup("telegram-task-timeout"))
	_ = viper.BindPFlag("telegram.max_concurrency", cmd.Flags().Lookup("telegram-max-concurrency"))
	_ = viper.BindPFlag("telegram.message_limit", cmd.Flags().Lookup("telegram-message-limit"))
	_ = viper.BindPFlag("telegram.allowed_chat_ids", cmd.Flags().Lookup("telegram-allowed-chat-id"))

	cmd.Flags().String("llm-api-key", "", "Completion provider API key.")
	cmd.Flags().String("llm-endpoint", "", "Completion provider base URL (default: OpenAI).")
	cmd.Flags().String("llm-model", "gpt-4o-mini", "Completion model.")
	cmd.Flags().Int("llm-max-tokens", 1000, "Max tokens per completion.")
	cmd.Flags().Float64("llm-temperature", 0.5, "Completion temperature.")
	cmd.Flags().Duration("llm-request-timeout", 90*time.Second, "Completion request timeout.")
	_ = viper.BindPFlag("llm.api_key", cmd.Flags().Lookup("llm-api-key"))
	_ = viper.BindPFlag("llm.endpoint", cmd.Flags().Lookup("llm-endpoint"))
	_ = viper.BindPFlag("llm.model", cmd.Flags().Lookup("llm-model"))
	_ = viper.BindPFlag("llm.max_tokens", cmd.Flags().Lookup("llm-max-tokens"))
	_ = viper.BindPFlag("llm.temperature", cmd.Flags().Lookup("llm-temperature"))
	_ = viper.BindPFlag("llm.request_timeout", cmd.Flags().Lookup("llm-request-timeout"))

	cmd.Flags().Int("session-max-turns", 0, "Cap on per-chat history length (0 = unbounded).")
	_ = viper.BindPFlag("session.max_turns", cmd.Flags().Lookup("session-max-turns"))

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.max_tokens", 1000)
	viper.SetDefault("llm.temperature", 0.5)

	return cmd
}

func initConfig() {
	// Best-effort .env load for local runs.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// The original deployment exported bare names; keep honoring them.
	_ = viper.BindEnv("llm.api_key", "AWAN_BOT_LLM_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("telegram.bot_token", "AWAN_BOT_TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN")

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func runBot(cmd *cobra.Command) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	token := strings.TrimSpace(viper.GetString("telegram.bot_token"))
	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	if token == "" || apiKey == "" {
		logger.Error("missing_credentials",
			"telegram_token_set", token != "",
			"llm_api_key_set", apiKey != "",
		)
		return fmt.Errorf("missing credentials: set TELEGRAM_TOKEN and OPENAI_API_KEY (or the AWAN_BOT_* equivalents)")
	}

	client := openai.New(openai.Config{
		BaseURL:        viper.GetString("llm.endpoint"),
		APIKey:         apiKey,
		RequestTimeout: viper.GetDuration("llm.request_timeout"),
	})

	store := session.NewStore(session.Options{
		Persona:  handler.Persona,
		MaxTurns: viper.GetInt("session.max_turns"),
	})

	httpClient := &http.Client{Timeout: 60 * time.Second}
	api := telegram.NewAPI(httpClient, "", token)

	h := &handler.Handler{
		Store:        store,
		Client:       client,
		Gateway:      api,
		Logger:       logger,
		Model:        viper.GetString("llm.model"),
		MaxTokens:    viper.GetInt("llm.max_tokens"),
		Temperature:  viper.GetFloat64("llm.temperature"),
		MessageLimit: viper.GetInt("telegram.message_limit"),
	}

	allowedChatIDs, err := allowedChatIDsFromViper()
	if err != nil {
		return err
	}

	rt := telegram.NewRuntime(api, h, store, telegram.Options{
		PollTimeout:    viper.GetDuration("telegram.poll_timeout"),
		TaskTimeout:    viper.GetDuration("telegram.task_timeout"),
		MaxConcurrency: viper.GetInt("telegram.max_concurrency"),
		AllowedChatIDs: allowedChatIDs,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rt.Run(ctx)
}

// allowedChatIDsFromViper reads telegram.allowed_chat_ids as strings so
// the value survives both the pflag bridge and plain env vars, then
// parses each entry as a chat ID.
func allowedChatIDsFromViper() ([]int64, error) {
	raw := viper.GetStringSlice("telegram.allowed_chat_ids")
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram.allowed_chat_ids entry %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Package app wires Telegram updates to the generation and library
// operations.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"mediabot/internal/models"
	"mediabot/internal/orchestrator"
	"mediabot/internal/provider"
	"mediabot/internal/store"
	"mediabot/internal/vault"
)

// App wires Telegram updates to the orchestrator.
type App struct {
	ctx       context.Context
	bot       *tele.Bot
	gw        *gateway
	logger    *zap.Logger
	registry  *models.Registry
	generator *orchestrator.Generator
	library   *orchestrator.Library
	commands  map[string]*command
	redis     *redis.Client
}

// New initialises the stores, providers and Telegram bot.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := LoadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	stores, rdb, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	p, err := newProvider(ctx, cfg, httpClient)
	if err != nil {
		closeRedis(rdb)
		return nil, err
	}

	var v mediaVault
	if cfg.Vault.Enabled() {
		vs, err := vault.New(cfg.Vault)
		if err != nil {
			closeRedis(rdb)
			return nil, fmt.Errorf("create vault: %w", err)
		}
		v = vs
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.TelegramToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logger.Error("telegram handler failed", zap.Error(err))
		},
	})
	if err != nil {
		closeRedis(rdb)
		return nil, fmt.Errorf("create telebot: %w", err)
	}

	app := &App{
		ctx:       ctx,
		bot:       bot,
		gw:        newGateway(bot, v, httpClient, logger),
		logger:    logger,
		registry:  registry,
		generator: orchestrator.NewGenerator(stores, p, logger),
		library:   orchestrator.NewLibrary(stores),
		redis:     rdb,
	}
	app.commands = app.buildCommands()
	app.registerHandlers()

	logger.Info("bot initialised",
		zap.String("username", bot.Me.Username),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("vault", v != nil),
		zap.String("prompt_model", registry.Prompt.ModelID))
	return app, nil
}

// LoadRegistry returns the built-in models with MODELS_FILE overrides applied.
// The prompt writer runs on Gemini when a Gemini key is configured.
func LoadRegistry(cfg Config) (*models.Registry, error) {
	registry := models.Default()
	if cfg.GeminiAPIKey != "" {
		registry.Prompt.ModelID = models.GeminiPromptModel
	}
	if cfg.ModelsFile == "" {
		return registry, nil
	}
	f, err := os.Open(cfg.ModelsFile)
	if err != nil {
		return nil, fmt.Errorf("open models file: %w", err)
	}
	defer f.Close()
	if err := registry.ApplyOverrides(f); err != nil {
		return nil, fmt.Errorf("apply %s: %w", cfg.ModelsFile, err)
	}
	return registry, nil
}

func openStores(cfg Config) (*store.Set, *redis.Client, error) {
	if cfg.StoreBackend != BackendRedis {
		return store.NewMemorySet(), nil, nil
	}
	set, client, err := store.NewRedisSet(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis store: %w", err)
	}
	return set, client, nil
}

func closeRedis(c *redis.Client) {
	if c != nil {
		_ = c.Close()
	}
}

func newProvider(ctx context.Context, cfg Config, httpClient *http.Client) (provider.Provider, error) {
	router := &provider.Router{}
	if cfg.ReplicateToken != "" {
		r, err := provider.NewReplicate(cfg.ReplicateToken, httpClient)
		if err != nil {
			return nil, fmt.Errorf("create replicate client: %w", err)
		}
		router.Replicate = r
	}
	if cfg.GeminiAPIKey != "" {
		g, err := provider.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		router.Gemini = g
	}
	return provider.WithTimeout(router, cfg.ProviderTimeout), nil
}

// Run starts the Telegram polling loop and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	a.bot.Start()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}

func (a *App) registerHandlers() {
	for name := range a.commands {
		a.bot.Handle("/"+name, a.handleCommand)
	}
	a.bot.Handle(tele.OnPhoto, a.handleCommand)
	a.bot.Handle(tele.OnVideo, a.handleCommand)
	a.bot.Handle(tele.OnAnimation, a.handleCommand)
	a.bot.Handle(tele.OnDocument, a.handleCommand)
}

// handleCommand serves text commands and media whose caption is a command.
func (a *App) handleCommand(c tele.Context) error {
	msg := c.Message()
	if msg == nil || c.Sender() == nil {
		return nil
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	name, tokens, ok := parseCommand(text, a.bot.Me.Username)
	if !ok {
		return nil
	}
	cmd, ok := a.commands[name]
	if !ok {
		return nil
	}

	owner := strconv.FormatInt(c.Sender().ID, 10)
	log := a.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("command", name),
		zap.String("owner", owner))
	ctx := orchestrator.WithLogger(a.ctx, log)
	reply := a.gw.replier(c.Chat(), owner)

	req := orchestrator.Request{Owner: owner, Tokens: tokens}
	if cmd.attachments {
		att, err := a.gw.attachments(ctx, owner, msg)
		if err != nil {
			log.Warn("resolve attachments", zap.Error(err))
			return reply.Send(ctx, "I could not read the attached file. Please try again.")
		}
		req.Attachments = att
	}

	started := time.Now()
	err := cmd.run(ctx, req, reply)
	log = log.With(zap.Duration("elapsed", time.Since(started)))
	switch {
	case err == nil:
		log.Info("command finished")
	case isUserError(err):
		log.Info("command rejected", zap.Error(err))
	default:
		log.Warn("command failed", zap.Error(err))
	}
	return nil
}

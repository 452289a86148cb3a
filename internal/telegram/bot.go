package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/app"
	"smart-meal-manager/internal/capture"
	"smart-meal-manager/internal/handoff"
	"smart-meal-manager/internal/metrics"
	"smart-meal-manager/internal/poller"
	"smart-meal-manager/internal/presenter"
	"smart-meal-manager/internal/session"
	"smart-meal-manager/internal/upload"
	"smart-meal-manager/internal/voice"
)

const (
	maxPhotoBytes = 20 << 20
	qrSize        = 512

	helpText = "📷 Send photos of your fridge, then /analyze.\n\n" +
		"/qr - scan with your phone instead\n" +
		"/stock <item> - mark an item as already at home\n" +
		"/need - what is left to buy\n" +
		"/suggest <ingredient> - recipe ideas\n" +
		"/history - recent sessions\n" +
		"/replay <id> - show a past session\n" +
		"/reset - start over"
)

// API is the part of the Telegram client the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot serves the meal manager over a Telegram webhook. Each chat has its
// own session, photo collector and stock marks.
type Bot struct {
	api    API
	svc    *app.Services
	logger *zap.Logger
	chats  *ChatSessionRepository
	http   *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state map[int64]*chatState
}

type chatState struct {
	sessions *session.Provider
	stock    *presenter.Stock
	watcher  *poller.Watcher

	mu        sync.Mutex
	collector *capture.Collector
	result    analysis.Result
	analyzing bool
}

// beginAnalysis claims the chat for one /analyze run. It returns false while
// another run is in progress.
func (st *chatState) beginAnalysis() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.analyzing {
		return false
	}
	st.analyzing = true
	return true
}

func (st *chatState) endAnalysis() {
	st.mu.Lock()
	st.analyzing = false
	st.mu.Unlock()
}

func (st *chatState) photos() *capture.Collector {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.collector
}

// takePhotos returns the collected images and starts a fresh collector.
func (st *chatState) takePhotos(logger *zap.Logger) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	images := st.collector.Images()
	st.collector = capture.NewCollector(nil, logger)
	return images
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(svc *app.Services) (*Bot, error) {
	cfg := svc.Config
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	svc.Logger.Info("authorized on account", zap.String("username", api.Self.UserName))

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	svc.Logger.Info("webhook set", zap.String("description", resp.Description))

	return newBot(api, svc), nil
}

func newBot(api API, svc *app.Services) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:    api,
		svc:    svc,
		logger: svc.Logger.Named("telegram"),
		chats:  NewChatSessionRepository(svc.DB.SQL),
		http:   &http.Client{Timeout: svc.Config.HTTPTimeout},
		ctx:    ctx,
		cancel: cancel,
		state:  make(map[int64]*chatState),
	}
}

// Close stops every running poll.
func (b *Bot) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.state {
		st.watcher.Stop()
	}
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.allowed(msg.From.ID) {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("user_id", msg.From.ID),
			zap.String("username", msg.From.UserName))
		return
	}

	go b.processMessage(b.ctx, msg)
}

// allowed reports whether userID may use the bot. Only listed users get in
// unless TelegramAllowAll is set.
func (b *Bot) allowed(userID int64) bool {
	if b.svc.Config.TelegramAllowAll {
		return true
	}
	for _, id := range b.svc.Config.TelegramAllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) chat(chatID int64) *chatState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.state[chatID]; ok {
		return st
	}
	st := &chatState{
		sessions:  session.NewProvider(chatStore{repo: b.chats, chatID: chatID}, b.svc.SessionCreator(), b.logger),
		collector: capture.NewCollector(nil, b.logger),
		stock:     presenter.NewStock(),
		watcher:   poller.NewWatcher(b.svc.Poller),
	}
	b.state[chatID] = st
	return st
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if len(msg.Photo) > 0 {
		// The last size is the largest.
		b.handlePhoto(ctx, chatID, msg.Photo[len(msg.Photo)-1].FileID)
		return
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		b.handlePhoto(ctx, chatID, msg.Document.FileID)
		return
	}

	if !msg.IsCommand() {
		b.sendMarkdown(chatID, helpText)
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		b.sendText(chatID, voice.WelcomeMessage)
		b.sendMarkdown(chatID, helpText)
	case "analyze":
		b.handleAnalyze(ctx, chatID)
	case "stock":
		b.handleStock(chatID, arg)
	case "need":
		b.handleNeed(chatID)
	case "suggest":
		b.handleSuggest(ctx, chatID, arg)
	case "history":
		b.handleHistory(ctx, chatID)
	case "replay":
		b.handleReplay(ctx, chatID, arg)
	case "qr":
		b.handleQR(ctx, chatID)
	case "reset":
		b.handleReset(chatID)
	case "metrics":
		if msg.From.ID != b.svc.Config.AdminTelegramID {
			b.sendMarkdown(chatID, "⛔ *Access Denied*: Admin only.")
			return
		}
		b.handleMetricsCommand(chatID)
	default:
		b.sendMarkdown(chatID, helpText)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, fileID string) {
	data, err := b.download(ctx, fileID)
	if err != nil {
		b.logger.Error("failed to download photo", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, "❌ Could not download that photo. Please send it again.")
		return
	}
	n, err := b.chat(chatID).photos().AddBytes(data)
	if err != nil {
		b.sendText(chatID, "❌ "+err.Error())
		return
	}
	b.sendText(chatID, fmt.Sprintf("📸 Photo %d added. Send more or /analyze.", n))
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		// The URL carries the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}

func (b *Bot) handleAnalyze(ctx context.Context, chatID int64) {
	st := b.chat(chatID)
	if !st.beginAnalysis() {
		b.sendText(chatID, "⏳ Already analyzing. The results will be posted here.")
		return
	}
	defer st.endAnalysis()

	sessionID, err := st.sessions.Resolve(ctx)
	if err != nil {
		b.sendText(chatID, "❌ Could not start a session. Please try again later.")
		return
	}

	// Photos sent while the upload runs land in the fresh collector.
	images := st.takePhotos(b.logger)
	if len(images) > 0 {
		started, err := b.svc.Gateway.Submit(ctx, sessionID, images)
		if err != nil {
			st.photos().Restore(images)
			b.logger.Error("upload failed", zap.String("session_id", sessionID), zap.Error(err))
			b.sendText(chatID, "❌ Upload failed. Your photos are kept, try /analyze again.")
			return
		}
		reported := make(chan struct{})
		go func() {
			defer close(reported)
			var startErr *upload.AnalyzeStartError
			if err := <-started; errors.As(err, &startErr) && ctx.Err() == nil {
				b.sendText(chatID, "⚠️ Photos uploaded, but analysis did not start. Still watching for progress.")
			}
		}()
		defer func() { <-reported }()
	}

	status, err := b.sendMarkdown(chatID, fmt.Sprintf("🔍 *Analyzing %d photos...*", len(images)))
	if err != nil {
		return
	}

	guide := voice.NewGuide(voice.FuncNarrator(func(ctx context.Context, text string) error {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
		return err
	}), true, b.logger)

	task := st.watcher.Watch(ctx, sessionID, func(u poller.Update) {
		edit := tgbotapi.NewEditMessageText(chatID, status.MessageID, fmt.Sprintf("🔍 Status: %s", u.Status))
		b.api.Send(edit)
		guide.Announce(ctx, u.Status, u.Result)
	})
	final, err := task.Wait()
	if err != nil {
		b.logger.Debug("poll stopped", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	st.mu.Lock()
	st.result = final.Result
	st.mu.Unlock()

	b.sendResult(chatID, final.Status, final.Result, st.stock)
	if final.Status == analysis.StatusDone {
		if _, err := b.svc.History.Save(ctx, sessionID, final.Result.Ingredients); err != nil {
			b.logger.Error("failed to save history", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (b *Bot) sendResult(chatID int64, status analysis.Status, result analysis.Result, stock *presenter.Stock) {
	ingredients, plan, shopping := presenter.MarkdownParts(presenter.Present(status, result), stock)
	for _, part := range []string{ingredients, plan, shopping} {
		if part != "" {
			b.sendMarkdown(chatID, part)
		}
	}
}

func (b *Bot) handleStock(chatID int64, item string) {
	if item == "" {
		b.sendText(chatID, "Usage: /stock <item>")
		return
	}
	if b.chat(chatID).stock.Toggle(item) {
		b.sendText(chatID, fmt.Sprintf("✅ %s marked as in stock", item))
	} else {
		b.sendText(chatID, fmt.Sprintf("↩️ %s unmarked", item))
	}
}

func (b *Bot) handleNeed(chatID int64) {
	st := b.chat(chatID)
	st.mu.Lock()
	list := st.result.ShoppingList
	st.mu.Unlock()

	need := st.stock.NeedToBuy(list)
	if len(need) == 0 {
		b.sendText(chatID, "🎉 Nothing left to buy.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🛒 Still to buy:\n")
	for _, item := range need {
		sb.WriteString("• " + item.Item + "\n")
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) handleSuggest(ctx context.Context, chatID int64, ingredient string) {
	if ingredient == "" {
		b.sendText(chatID, "Usage: /suggest <ingredient>")
		return
	}
	var pending tgbotapi.Message
	s := presenter.Suggest(ctx, b.svc.Client, presenter.NormalizeName(ingredient), func(s presenter.Suggestion) {
		if s.Loading {
			pending, _ = b.api.Send(tgbotapi.NewMessage(chatID, "🧑‍🍳 Looking up recipes..."))
		}
	})

	var text string
	switch {
	case s.Err != nil:
		b.logger.Warn("recipe suggestions failed", zap.Error(s.Err))
		text = "❌ Could not fetch recipes."
	case len(s.Recipes) == 0:
		text = "No recipes found."
	default:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("🍳 Recipes with %s:\n", s.Ingredient))
		for i, r := range s.Recipes {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, r))
		}
		text = sb.String()
	}
	if pending.MessageID != 0 {
		b.api.Send(tgbotapi.NewEditMessageText(chatID, pending.MessageID, text))
		return
	}
	b.sendText(chatID, text)
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64) {
	entries, err := b.svc.History.List(ctx)
	if err != nil {
		b.logger.Error("failed to list history", zap.Error(err))
		b.sendText(chatID, "❌ Error fetching history.")
		return
	}
	if len(entries) == 0 {
		b.sendText(chatID, "No history yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🗂 Recent sessions\n\n")
	for _, e := range entries {
		names := make([]string, 0, len(e.Ingredients))
		for _, ing := range e.Ingredients {
			names = append(names, ing.Name)
		}
		sb.WriteString(fmt.Sprintf("%s\n/replay %s\n%s\n\n", e.Date, e.ID, strings.Join(names, "、")))
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) handleReplay(ctx context.Context, chatID int64, sessionID string) {
	if sessionID == "" {
		b.sendText(chatID, "Usage: /replay <session id>")
		return
	}
	result, err := b.svc.Loader.Load(ctx, sessionID, nil)
	if err != nil {
		b.logger.Warn("replay failed", zap.String("session_id", sessionID), zap.Error(err))
		b.sendText(chatID, "❌ Could not load that session.")
		return
	}
	st := b.chat(chatID)
	st.mu.Lock()
	st.result = result
	st.mu.Unlock()
	b.sendResult(chatID, analysis.StatusDone, result, st.stock)
}

func (b *Bot) handleQR(ctx context.Context, chatID int64) {
	sessionID, err := b.chat(chatID).sessions.Resolve(ctx)
	if err != nil {
		b.sendText(chatID, "❌ Could not start a session. Please try again later.")
		return
	}
	link := b.svc.Handoff.URL(ctx, sessionID)
	png, err := handoff.PNG(link, qrSize)
	if err != nil {
		b.logger.Error("failed to render QR code", zap.Error(err))
		b.sendText(chatID, link)
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "session.png", Bytes: png})
	photo.Caption = voice.QRMessage + "\n" + link
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Error("failed to send QR code", zap.Error(err))
	}
}

func (b *Bot) handleReset(chatID int64) {
	st := b.chat(chatID)
	st.watcher.Stop()
	if err := st.sessions.Reset(); err != nil {
		b.logger.Error("failed to reset session", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	st.takePhotos(b.logger)
	st.stock.Reset()
	st.mu.Lock()
	st.result = analysis.Result{}
	st.mu.Unlock()
	b.sendText(chatID, "🧹 Session cleared. Send new photos to start again.")
}

func (b *Bot) handleMetricsCommand(chatID int64) {
	usage, err := b.svc.Metrics.GetDailyUsage(7)
	if err != nil {
		b.sendText(chatID, "❌ Error fetching metrics.")
		return
	}

	health := metrics.GetSysHealth(b.svc.Config.DataDir)

	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Backend Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d calls (%d failed)\n", d.Date, d.Calls, d.Failures))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s (%d files)\n", health.DataDiskSize, health.DataFiles))
	sb.WriteString(fmt.Sprintf("• Up since: %s\n", health.Started))

	b.sendMarkdown(chatID, sb.String())
}

// CleanupSessions drops chat bindings idle for longer than maxAge, along
// with the in-memory state of those chats.
func (b *Bot) CleanupSessions(ctx context.Context, maxAge time.Duration) {
	chatIDs, err := b.chats.CleanupStale(ctx, maxAge)
	if err != nil {
		b.logger.Error("failed to clean up chat sessions", zap.Error(err))
		return
	}
	if len(chatIDs) == 0 {
		return
	}

	b.mu.Lock()
	var evicted []*chatState
	for _, id := range chatIDs {
		if st, ok := b.state[id]; ok {
			evicted = append(evicted, st)
			delete(b.state, id)
		}
	}
	b.mu.Unlock()

	for _, st := range evicted {
		st.watcher.Stop()
	}
	b.logger.Info("removed stale chat sessions",
		zap.Int("count", len(chatIDs)),
		zap.Int("evicted", len(evicted)))
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return sent, err
}

// Package bot is the Telegram front-end: every chat gets its own dashboard
// session and one dashboard message that is edited in place after each poll.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/events"
	"bontle/internal/models"
	"bontle/internal/render"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const helpText = `Bontle Staff bot
/login <email> <password> - sign in (the message is deleted)
/stores - pick a store
/queue - show today's queue
/refresh - reload queue and KPIs
/incident <severity> <category> <note> - report on the open booking
/export - queue as xlsx
/history - your recent requests
/logout - end the session`

// Options configures the bot.
type Options struct {
	PollInterval time.Duration
	Location     *time.Location
	PageSize     int
	Debug        bool
	AllowedChats []int64
	Bus          *events.Bus
	Journal      dashboard.Journal
	History      History
	Logger       *zerolog.Logger
}

// Bot serves staff dashboards over Telegram.
type Bot struct {
	api      dashboard.API
	tg       telegramClient
	sessions *sessionStore
	bus      *events.Bus
	history  History
	loc      *time.Location
	logger   *zerolog.Logger

	allowMu sync.RWMutex
	allowed map[int64]struct{}

	settingsMu   sync.RWMutex
	pageSize     int
	stores       []models.Store // seeds sessions created later
	pollInterval time.Duration  // for sessions created later
}

func New(token string, api dashboard.API, opts Options) (*Bot, error) {
	tgAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	tgAPI.Debug = opts.Debug
	return newBot(&realTelegramClient{api: tgAPI}, api, opts)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, api dashboard.API, opts Options) (*Bot, error) {
	return newBot(tg, api, opts)
}

func newBot(tg telegramClient, api dashboard.API, opts Options) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if api == nil {
		return nil, fmt.Errorf("queue api is nil")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 8
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "bot").Logger()

	b := &Bot{
		api:          api,
		tg:           tg,
		bus:          opts.Bus,
		history:      opts.History,
		loc:          opts.Location,
		logger:       &l,
		pageSize:     opts.PageSize,
		pollInterval: opts.PollInterval,
	}
	b.SetAllowedChats(opts.AllowedChats)
	b.sessions = newSessionStore(func(key string) *dashboard.Controller {
		b.settingsMu.RLock()
		stores, interval := b.stores, b.pollInterval
		b.settingsMu.RUnlock()
		return dashboard.New(api, dashboard.Options{
			Key:          key,
			PollInterval: interval,
			Stores:       stores,
			Location:     opts.Location,
			Bus:          opts.Bus,
			Journal:      opts.Journal,
			Logger:       logger,
		})
	})
	b.bus.Subscribe(events.QueueRefreshed, b.onQueueRefreshed)
	return b, nil
}

// LoadStores fetches the store list once for every chat session created
// afterwards.
func (b *Bot) LoadStores(ctx context.Context) error {
	stores, err := b.api.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	b.settingsMu.Lock()
	b.stores = stores
	b.settingsMu.Unlock()
	return nil
}

// SetPollInterval changes the poll interval of chat sessions created later.
// A chat picks it up after /logout.
func (b *Bot) SetPollInterval(d time.Duration) {
	b.settingsMu.Lock()
	b.pollInterval = d
	b.settingsMu.Unlock()
}

// SetPageSize changes how many bookings a dashboard page shows.
func (b *Bot) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	b.settingsMu.Lock()
	b.pageSize = n
	b.settingsMu.Unlock()
}

func (b *Bot) currentPageSize() int {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.pageSize
}

// SetAllowedChats replaces the allow-list and ends sessions of chats that
// lost access. An empty list allows every chat.
func (b *Bot) SetAllowedChats(ids []int64) {
	allowed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	b.allowMu.Lock()
	b.allowed = allowed
	b.allowMu.Unlock()

	if b.sessions == nil {
		return
	}
	if n := b.sessions.retain(b.isAllowed); n > 0 {
		b.logger.Info().Int("sessions", n).Msg("closed sessions of chats no longer allowed")
	}
}

func (b *Bot) isAllowed(chatID int64) bool {
	b.allowMu.RLock()
	defer b.allowMu.RUnlock()
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[chatID]
	return ok
}

// Start polls Telegram updates until ctx is done, then logs every chat out.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("staff bot authorized")

	defer b.sessions.closeAll()
	defer b.tg.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			updateCtx := l.WithContext(ctx)
			b.handleUpdate(updateCtx, &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		if update.CallbackQuery.Message == nil || update.CallbackQuery.Message.Chat == nil {
			return
		}
		l.Debug().
			Int64("chat_id", update.CallbackQuery.Message.Chat.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.Chat != nil {
		l.Debug().
			Int64("chat_id", update.Message.Chat.ID).
			Bool("command", strings.HasPrefix(update.Message.Text, "/")).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.isAllowed(chatID) {
		b.reply(chatID, "This chat is not allowed to use the staff dashboard.")
		return
	}
	text := strings.TrimSpace(msg.Text)
	st := b.sessions.get(chatID)

	// Commands interrupt a login prompt.
	if cmd, args := parseCommand(text); cmd != "" {
		st.setStep(stepNone, "")
		switch cmd {
		case "start", "help":
			b.reply(chatID, helpText)
		case "login":
			b.handleLoginCommand(ctx, st, msg, args)
		case "logout":
			b.sessions.drop(chatID)
			b.reply(chatID, "Logged out.")
		case "stores":
			b.sendStores(ctx, st)
		case "queue":
			if b.requireSession(st) {
				st.forgetMessage()
				b.showDashboard(st)
			}
		case "refresh":
			b.refresh(ctx, st)
		case "incident":
			b.handleIncident(ctx, st, args)
		case "export":
			b.handleExport(st)
		case "history":
			b.handleHistory(ctx, st)
		default:
			b.reply(chatID, "Unknown command. /help lists the commands.")
		}
		return
	}

	step, email := st.loginState()
	switch step {
	case stepEmail:
		if text == "" {
			return
		}
		st.setStep(stepPassword, text)
		b.reply(chatID, "Password:")
	case stepPassword:
		st.setStep(stepNone, "")
		b.deleteMessage(chatID, msg.MessageID)
		b.login(ctx, st, email, text)
	}
}

func (b *Bot) handleLoginCommand(ctx context.Context, st *chatSession, msg *tgbotapi.Message, args []string) {
	switch len(args) {
	case 0:
		st.setStep(stepEmail, "")
		b.reply(st.chatID, "Email:")
	case 1:
		st.setStep(stepPassword, args[0])
		b.reply(st.chatID, "Password:")
	default:
		b.deleteMessage(st.chatID, msg.MessageID)
		b.login(ctx, st, args[0], strings.Join(args[1:], " "))
	}
}

func (b *Bot) login(ctx context.Context, st *chatSession, email, password string) {
	if err := st.ctrl.Login(ctx, email, password); err != nil {
		b.reply(st.chatID, render.Login(st.ctrl.View().LoginError))
		return
	}
	st.setPage(0)
	st.mu.Lock()
	st.warnedExpiry = false
	st.mu.Unlock()
	st.forgetMessage()
	b.showDashboard(st)
}

func (b *Bot) requireSession(st *chatSession) bool {
	if st.ctrl.View().Authenticated {
		return true
	}
	b.reply(st.chatID, "Not logged in. Use /login <email> <password>.")
	return false
}

func (b *Bot) sendStores(ctx context.Context, st *chatSession) {
	v := st.ctrl.View()
	if len(v.Stores) == 0 {
		if err := st.ctrl.LoadStores(ctx); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("list stores failed")
		}
		v = st.ctrl.View()
	}
	if len(v.Stores) == 0 {
		b.reply(st.chatID, "No stores available.")
		return
	}
	msg := tgbotapi.NewMessage(st.chatID, "Choose a store:")
	msg.ReplyMarkup = storesKeyboard(v.Stores, v.StoreID)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", st.chatID).Msg("send stores failed")
	}
}

func (b *Bot) refresh(ctx context.Context, st *chatSession) {
	if !b.requireSession(st) {
		return
	}
	if err := st.ctrl.Refresh(ctx); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("refresh failed")
	}
	b.showDashboard(st)
}

func (b *Bot) handleIncident(ctx context.Context, st *chatSession, args []string) {
	if !b.requireSession(st) {
		return
	}
	if len(args) < 3 {
		b.reply(st.chatID, "Usage: /incident <severity> <category> <note>")
		return
	}
	id, err := st.ctrl.ReportIncident(ctx, args[0], args[1], strings.Join(args[2:], " "))
	switch {
	case errors.Is(err, dashboard.ErrNoSelection):
		b.reply(st.chatID, "Open a booking first.")
	case err != nil:
		zerolog.Ctx(ctx).Debug().Err(err).Msg("incident failed")
	default:
		b.reply(st.chatID, fmt.Sprintf("Incident %s recorded.", id))
	}
}

func (b *Bot) handleExport(st *chatSession) {
	if !b.requireSession(st) {
		return
	}
	var buf bytes.Buffer
	if err := st.ctrl.ExportQueue(&buf); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", st.chatID).Msg("export failed")
		b.reply(st.chatID, "Export failed.")
		return
	}
	doc := tgbotapi.NewDocument(st.chatID, tgbotapi.FileBytes{Name: st.ctrl.ExportFilename(), Bytes: buf.Bytes()})
	if _, err := b.tg.Send(doc); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", st.chatID).Msg("send export failed")
	}
}

func (b *Bot) handleHistory(ctx context.Context, st *chatSession) {
	if !b.requireSession(st) {
		return
	}
	if b.history == nil {
		b.reply(st.chatID, "History is not enabled.")
		return
	}
	entries, err := b.history.Recent(ctx, st.ctrl.Actor(), 10)
	if err != nil {
		b.logger.Warn().Err(err).Msg("read journal failed")
		b.reply(st.chatID, "History unavailable.")
		return
	}
	b.reply(st.chatID, render.History(entries, b.loc))
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	data := cq.Data
	_ = b.answerCallback(cq.ID)
	chatID := cq.Message.Chat.ID
	if data == cbNoop || !b.isAllowed(chatID) {
		return
	}
	st := b.sessions.get(chatID)

	// Keep editing the message the user is looking at.
	st.mu.Lock()
	if st.messageID != cq.Message.MessageID && !strings.HasPrefix(data, cbStore) && data != cbStores {
		st.messageID = cq.Message.MessageID
		st.lastKey = ""
	}
	st.mu.Unlock()

	switch {
	case data == cbStores:
		b.sendStores(ctx, st)
	case strings.HasPrefix(data, cbStore):
		b.handleStoreCallback(st, strings.TrimPrefix(data, cbStore))
	case strings.HasPrefix(data, cbBooking):
		if err := st.ctrl.SelectBooking(strings.TrimPrefix(data, cbBooking)); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("select booking failed")
		}
		b.showDashboard(st)
	case strings.HasPrefix(data, cbStatus):
		b.handleStatusCallback(ctx, st, strings.TrimPrefix(data, cbStatus))
	case strings.HasPrefix(data, cbPage):
		page, err := strconv.Atoi(strings.TrimPrefix(data, cbPage))
		if err != nil {
			return
		}
		st.setPage(page)
		b.showDashboard(st)
	case data == cbBack:
		st.ctrl.ClearSelection()
		b.showDashboard(st)
	case data == cbRefresh:
		b.refresh(ctx, st)
	}
}

func (b *Bot) handleStoreCallback(st *chatSession, raw string) {
	storeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	if !b.requireSession(st) {
		return
	}
	if err := st.ctrl.SelectStore(storeID); err != nil {
		b.reply(st.chatID, err.Error())
		return
	}
	st.setPage(0)
	st.forgetMessage()
	b.showDashboard(st)
}

func (b *Bot) handleStatusCallback(ctx context.Context, st *chatSession, raw string) {
	status, err := models.ParseStatus(raw)
	if err != nil {
		return
	}
	if err := st.ctrl.SetStatus(ctx, status); err != nil {
		if errors.Is(err, dashboard.ErrNotAuthenticated) {
			b.requireSession(st)
			return
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("status", string(status)).Msg("status update failed")
	}
	b.showDashboard(st)
}

// onQueueRefreshed edits the chat's dashboard message after a refresh.
func (b *Bot) onQueueRefreshed(e events.Event) {
	if st := b.sessions.lookup(e.Session); st != nil {
		b.renderDashboard(st, true)
	}
}

// showDashboard edits the dashboard message, or sends a new one when the chat
// has none.
func (b *Bot) showDashboard(st *chatSession) {
	b.renderDashboard(st, false)
}

// renderDashboard sends the current view unless it matches what the chat
// already shows. With onlyVisible set it never creates a new message.
func (b *Bot) renderDashboard(st *chatSession, onlyVisible bool) {
	st.render.Lock()
	defer st.render.Unlock()

	st.mu.Lock()
	page, messageID, lastKey := st.page, st.messageID, st.lastKey
	st.mu.Unlock()
	if onlyVisible && messageID == 0 {
		return
	}

	v := st.ctrl.View()
	if !v.Authenticated {
		return
	}
	// Telegram rejects edits that change nothing, so the refresh clock stays out.
	v.RefreshedAt = time.Time{}

	dm := buildDashboard(v, page, b.currentPageSize(), b.loc)
	key := dm.key()
	if messageID != 0 && key == lastKey {
		return
	}

	if messageID != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(st.chatID, messageID, dm.text, dm.markup)
		_, err := b.tg.Send(edit)
		if err == nil {
			b.remember(st, dm.page, messageID, key)
			return
		}
		b.logger.Debug().Err(err).Int64("chat_id", st.chatID).Msg("edit dashboard failed, sending new message")
	}

	msg := tgbotapi.NewMessage(st.chatID, dm.text)
	msg.ReplyMarkup = dm.markup
	sent, err := b.tg.Send(msg)
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", st.chatID).Msg("send dashboard failed")
		return
	}
	b.remember(st, dm.page, sent.MessageID, key)
}

func (b *Bot) remember(st *chatSession, page, messageID int, key string) {
	st.mu.Lock()
	st.page = page
	st.messageID = messageID
	st.lastKey = key
	st.mu.Unlock()
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send reply failed")
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.tg.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("delete credentials message failed")
	}
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

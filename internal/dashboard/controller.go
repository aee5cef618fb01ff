// Package dashboard holds the staff session: who is logged in, which store is
// on screen, today's queue for it, the booking being inspected and the daily
// KPI snapshot. A poll loop keeps the queue fresh while a session is active.
//
// The controller never decides whether a status transition is legal; it
// forwards requests to the backend and shows whatever the backend reports.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bontle/internal/events"
	"bontle/internal/export"
	"bontle/internal/journal"
	"bontle/internal/metrics"
	"bontle/internal/models"
	"bontle/internal/token"

	"github.com/rs/zerolog"
)

const DefaultPollInterval = 10 * time.Second

var (
	ErrNotAuthenticated = errors.New("not logged in")
	ErrNoStore          = errors.New("no store selected")
	ErrUnknownStore     = errors.New("unknown store")
	ErrNoSelection      = errors.New("no booking selected")
	ErrBookingNotFound  = errors.New("booking is not in today's queue")
	ErrInvalidStatus    = errors.New("invalid status")
	// ErrStale is returned by Refresh when a logout or store switch happened
	// while the request was in flight; its result was dropped.
	ErrStale = errors.New("refresh superseded")
)

// API is the subset of the backend client the controller needs.
type API interface {
	Login(ctx context.Context, email, password string) (*models.TokenPair, error)
	Me(ctx context.Context, token string) (*models.User, error)
	ListStores(ctx context.Context) ([]models.Store, error)
	QueueToday(ctx context.Context, token string, storeID int64) ([]models.Booking, error)
	UpdateStatus(ctx context.Context, token, bookingID string, status models.Status) (*models.StatusResult, error)
	DailyKPIs(ctx context.Context, token string, storeID int64, date string) (*models.KPISnapshot, error)
	LogIncident(ctx context.Context, token string, incident models.Incident) (string, error)
}

// Journal records requests sent on behalf of the operator.
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	Key          string // identifies the session in events and logs
	PollInterval time.Duration
	Location     *time.Location
	Now          func() time.Time
	Bus          *events.Bus
	Journal      Journal
	Logger       *zerolog.Logger
	// Stores seeds the store list, e.g. from a fetch shared by many sessions.
	Stores []models.Store
}

// View is an immutable snapshot for rendering.
type View struct {
	Authenticated bool
	User          models.User
	ExpiresAt     time.Time
	LoginError    string
	Stores        []models.Store
	StoreID       int64
	Queue         []models.Booking
	Selected      *models.Booking
	KPIs          *models.KPISnapshot
	RefreshedAt   time.Time
}

// Store returns the selected store's reference data.
func (v View) Store() (models.Store, bool) {
	for _, s := range v.Stores {
		if s.ID == v.StoreID {
			return s, true
		}
	}
	return models.Store{}, false
}

type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns one staff session.
type Controller struct {
	api      API
	key      string
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	bus      *events.Bus
	journal  Journal
	logger   zerolog.Logger

	mu          sync.Mutex
	stores      []models.Store
	session     *models.Session
	life        context.Context
	endLife     context.CancelFunc
	loginErr    string
	storeID     int64
	queue       []models.Booking
	selected    *models.Booking
	kpis        *models.KPISnapshot
	refreshedAt time.Time
	gen         uint64
	poll        *poller
}

// New builds an unauthenticated controller.
func New(api API, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Controller{
		api:      api,
		key:      opts.Key,
		interval: opts.PollInterval,
		loc:      opts.Location,
		now:      opts.Now,
		bus:      opts.Bus,
		journal:  opts.Journal,
		stores:   append([]models.Store(nil), opts.Stores...),
		logger:   logger.With().Str("component", "dashboard").Str("session", opts.Key).Logger(),
	}
}

// LoadStores fetches the store list. Callers usually ignore the error.
func (c *Controller) LoadStores(ctx context.Context) error {
	stores, err := c.api.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	c.mu.Lock()
	c.stores = stores
	c.mu.Unlock()
	return nil
}

// Login authenticates and starts polling the default store. On failure the
// session stays logged out and View().LoginError holds the error text.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	c.mu.Lock()
	c.loginErr = ""
	c.mu.Unlock()

	err := c.login(ctx, email, password)
	metrics.IncLogin(err)
	if err != nil {
		c.mu.Lock()
		c.loginErr = err.Error()
		c.mu.Unlock()
		c.logger.Info().Str("email", email).Err(err).Msg("login failed")
		return err
	}
	c.logger.Info().Str("email", email).Msg("logged in")
	return nil
}

func (c *Controller) login(ctx context.Context, email, password string) error {
	pair, err := c.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	user, err := c.api.Me(ctx, pair.AccessToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	haveStores := len(c.stores) > 0
	c.mu.Unlock()
	if !haveStores {
		if err := c.LoadStores(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("store list unavailable at login")
		}
	}

	sess := &models.Session{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         *user,
	}
	if claims, err := token.Parse(pair.AccessToken); err == nil {
		sess.ExpiresAt = claims.Expiry()
		c.logger.Debug().
			Int64("user_id", claims.UserID()).
			Str("role", claims.Role).
			Time("expires_at", sess.ExpiresAt).
			Msg("access token decoded")
	}

	c.mu.Lock()
	replaced := c.session != nil
	old := c.endSessionLocked()
	c.session = sess
	c.life, c.endLife = context.WithCancel(context.Background())
	c.storeID = 0
	if user.StoreID != nil {
		c.storeID = *user.StoreID
	} else if len(c.stores) > 0 {
		c.storeID = c.stores[0].ID
	}
	storeID := c.storeID
	if storeID != 0 {
		c.startPollingLocked()
	}
	c.mu.Unlock()

	old.wait()
	if !replaced {
		metrics.SessionStarted()
	}
	c.bus.Publish(events.Event{Type: events.SessionStarted, Session: c.key, StoreID: storeID})
	return nil
}

// Logout ends the session client-side. It returns once the poll loop has
// stopped; no request is issued after that.
func (c *Controller) Logout() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	old := c.endSessionLocked()
	c.session = nil
	c.storeID = 0
	c.loginErr = ""
	c.mu.Unlock()

	old.wait()
	metrics.SessionEnded()
	c.logger.Info().Msg("logged out")
	c.bus.Publish(events.Event{Type: events.SessionEnded, Session: c.key})
}

// Close stops polling; it is Logout for shutdown paths.
func (c *Controller) Close() {
	c.Logout()
}

type ended struct {
	cancel context.CancelFunc
	poll   *poller
}

func (e ended) wait() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.poll != nil {
		e.poll.cancel()
		<-e.poll.done
	}
}

// endSessionLocked detaches the current session's lifetime and poller and
// clears the per-session view. The caller runs wait() after unlocking.
func (c *Controller) endSessionLocked() ended {
	e := ended{cancel: c.endLife, poll: c.poll}
	c.endLife = nil
	c.life = nil
	c.poll = nil
	c.gen++
	c.queue = nil
	c.selected = nil
	c.kpis = nil
	c.refreshedAt = time.Time{}
	return e
}

// SelectStore switches the dashboard to storeID and restarts polling, which
// refreshes immediately.
func (c *Controller) SelectStore(storeID int64) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if len(c.stores) > 0 {
		known := false
		for _, s := range c.stores {
			if s.ID == storeID {
				known = true
				break
			}
		}
		if !known {
			c.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrUnknownStore, storeID)
		}
	}
	old := c.poll
	c.poll = nil
	c.gen++
	c.storeID = storeID
	c.queue = nil
	c.selected = nil
	c.kpis = nil
	c.refreshedAt = time.Time{}
	c.startPollingLocked()
	c.mu.Unlock()

	// The old loop may be mid-request; its result is dropped by generation.
	if old != nil {
		old.cancel()
	}
	c.logger.Debug().Int64("store_id", storeID).Msg("store switched")
	return nil
}

// SelectBooking picks a booking from the current queue for inspection.
func (c *Controller) SelectBooking(bookingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNotAuthenticated
	}
	b, ok := models.FindBooking(c.queue, bookingID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	c.selected = &b
	return nil
}

// ClearSelection closes the detail pane.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()
}

// Refresh fetches today's queue and KPIs for the selected store.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if c.storeID == 0 {
		c.mu.Unlock()
		return ErrNoStore
	}
	tok := c.session.Token
	storeID := c.storeID
	gen := c.gen
	life := c.life
	c.mu.Unlock()

	ctx, cancel := bind(ctx, life)
	defer cancel()

	err := c.refresh(ctx, tok, storeID, gen)
	metrics.IncRefresh(err)
	return err
}

func (c *Controller) refresh(ctx context.Context, tok string, storeID int64, gen uint64) error {
	applied := false
	defer func() {
		if applied {
			c.bus.Publish(events.Event{Type: events.QueueRefreshed, Session: c.key, StoreID: storeID})
		}
	}()

	queue, err := c.api.QueueToday(ctx, tok, storeID)
	if err != nil {
		return fmt.Errorf("fetch queue: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrStale
	}
	c.queue = queue
	if c.selected != nil {
		if latest, ok := models.FindBooking(queue, c.selected.ID); ok {
			c.selected = &latest
		}
	}
	c.refreshedAt = c.now()
	c.mu.Unlock()
	applied = true

	kpis, err := c.api.DailyKPIs(ctx, tok, storeID, c.today())
	if err != nil {
		return fmt.Errorf("fetch kpis: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrStale
	}
	c.kpis = kpis
	c.mu.Unlock()
	return nil
}

// SetStatus asks the backend to move the selected booking to status and then
// refreshes immediately.
func (c *Controller) SetStatus(ctx context.Context, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	tok := c.session.Token
	actor := c.session.User.Email
	booking := *c.selected
	gen := c.gen
	life := c.life
	c.mu.Unlock()

	ctx, cancel := bind(ctx, life)
	defer cancel()

	res, err := c.api.UpdateStatus(ctx, tok, booking.ID, status)
	metrics.IncStatusRequest(string(status), err)
	c.record(ctx, &journal.Entry{
		Kind:        journal.KindStatus,
		Actor:       actor,
		StoreID:     booking.StoreID,
		BookingID:   booking.ID,
		BookingCode: booking.BookingCode,
		FromStatus:  string(booking.Status),
		ToStatus:    string(status),
		Error:       errText(err),
	})
	c.bus.Publish(events.Event{Type: events.StatusRequested, Session: c.key, StoreID: booking.StoreID, BookingID: booking.ID})
	if err != nil {
		c.logger.Debug().Str("booking_id", booking.ID).Str("status", string(status)).Err(err).Msg("status update rejected")
		return fmt.Errorf("update status: %w", err)
	}

	if res != nil && res.Status.Valid() {
		c.applyStatus(gen, booking.ID, res.Status)
	}
	return c.Refresh(ctx)
}

// applyStatus shows the status the backend just reported until the next
// refresh replaces it.
func (c *Controller) applyStatus(gen uint64, bookingID string, status models.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	for i := range c.queue {
		if c.queue[i].ID == bookingID {
			c.queue[i].Status = status
		}
	}
	if c.selected != nil && c.selected.ID == bookingID {
		c.selected.Status = status
	}
}

// ReportIncident files an incident against the selected booking.
func (c *Controller) ReportIncident(ctx context.Context, severity, category, note string) (string, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if c.selected == nil {
		c.mu.Unlock()
		return "", ErrNoSelection
	}
	tok := c.session.Token
	actor := c.session.User.Email
	booking := *c.selected
	life := c.life
	c.mu.Unlock()

	ctx, cancel := bind(ctx, life)
	defer cancel()

	incident := models.Incident{
		BookingID: booking.ID,
		Severity:  strings.ToUpper(strings.TrimSpace(severity)),
		Category:  strings.ToUpper(strings.TrimSpace(category)),
		Note:      strings.TrimSpace(note),
	}
	id, err := c.api.LogIncident(ctx, tok, incident)
	c.record(ctx, &journal.Entry{
		Kind:        journal.KindIncident,
		Actor:       actor,
		StoreID:     booking.StoreID,
		BookingID:   booking.ID,
		BookingCode: booking.BookingCode,
		Detail:      fmt.Sprintf("%s/%s: %s", incident.Severity, incident.Category, incident.Note),
		Error:       errText(err),
	})
	if err != nil {
		return "", fmt.Errorf("log incident: %w", err)
	}
	return id, nil
}

// ExportQueue writes the current queue and KPIs as an xlsx workbook.
func (c *Controller) ExportQueue(w io.Writer) error {
	v := c.View()
	if !v.Authenticated {
		return ErrNotAuthenticated
	}
	return export.WriteQueue(w, export.QueueSheet{Queue: v.Queue, KPIs: v.KPIs, Loc: c.loc})
}

// ExportFilename names the workbook for the current store and day.
func (c *Controller) ExportFilename() string {
	c.mu.Lock()
	storeID := c.storeID
	c.mu.Unlock()
	return export.Filename(storeID, c.now().In(c.loc))
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Authenticated: c.session != nil,
		LoginError:    c.loginErr,
		Stores:        append([]models.Store(nil), c.stores...),
		StoreID:       c.storeID,
		Queue:         append([]models.Booking(nil), c.queue...),
		RefreshedAt:   c.refreshedAt,
	}
	if c.session != nil {
		v.User = c.session.User
		v.ExpiresAt = c.session.ExpiresAt
	}
	if c.selected != nil {
		sel := *c.selected
		v.Selected = &sel
	}
	if c.kpis != nil {
		k := *c.kpis
		v.KPIs = &k
	}
	return v
}

// Actor returns the logged-in staff email, empty when logged out.
func (c *Controller) Actor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.User.Email
}

// Location is the zone used for "today" and rendering.
func (c *Controller) Location() *time.Location {
	return c.loc
}

func (c *Controller) startPollingLocked() {
	ctx, cancel := context.WithCancel(c.life)
	p := &poller{cancel: cancel, done: make(chan struct{})}
	c.poll = p
	go c.pollLoop(ctx, p)
}

func (c *Controller) pollLoop(ctx context.Context, p *poller) {
	defer close(p.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refreshQuietly(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshQuietly(ctx)
		}
	}
}

func (c *Controller) refreshQuietly(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Debug().Err(err).Msg("poll failed")
	}
}

func (c *Controller) record(ctx context.Context, e *journal.Entry) {
	if c.journal == nil {
		return
	}
	e.CreatedAt = c.now()
	if err := c.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn().Err(err).Msg("journal write failed")
	}
}

func (c *Controller) today() string {
	return c.now().In(c.loc).Format("2006-01-02")
}

// bind derives a context that is also cancelled when the session ends.
func bind(ctx, life context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if life == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(life, cancel)
	// AfterFunc cancels on its own goroutine; a session that already ended
	// must not let the caller slip one request through.
	if life.Err() != nil {
		cancel()
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

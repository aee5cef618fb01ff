// Package console is a line-oriented terminal front-end for one staff session.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/events"
	"bontle/internal/journal"
	"bontle/internal/models"
	"bontle/internal/render"

	"github.com/rs/zerolog"
)

const helpText = `Commands:
  login <email> <password>   sign in
  stores                     list stores
  store <id>                 switch store
  select <n|id|code>         open a booking from the queue
  back                       close the booking detail
  status <STATUS>            request a status change for the open booking
  arrived | inservice | completed | noshow | cancel
                             shortcuts for status
  incident <severity> <category> <note...>
                             report an incident on the open booking
  refresh                    reload queue and KPIs now
  show                       print the dashboard
  export [dir]               save the queue as an xlsx workbook
  history [n]                your recent requests
  logout                     end the session
  help                       this text
  quit                       exit`

var shortcuts = map[string]models.Status{
	"arrived":    models.StatusArrived,
	"inservice":  models.StatusInService,
	"in-service": models.StatusInService,
	"completed":  models.StatusCompleted,
	"complete":   models.StatusCompleted,
	"noshow":     models.StatusNoShow,
	"no-show":    models.StatusNoShow,
	"cancel":     models.StatusCancelled,
}

// History reads the operator's journal.
type History interface {
	Recent(ctx context.Context, actor string, limit int) ([]journal.Entry, error)
}

// Options configures a Console.
type Options struct {
	ExportDir string
	History   History
	Logger    *zerolog.Logger
}

// Console reads commands from in and writes the dashboard to out.
type Console struct {
	ctrl      *dashboard.Controller
	history   History
	exportDir string
	in        io.Reader
	logger    zerolog.Logger

	mu   sync.Mutex
	out  io.Writer
	last string
}

// New builds a console over ctrl.
func New(ctrl *dashboard.Controller, in io.Reader, out io.Writer, opts Options) *Console {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	return &Console{
		ctrl:      ctrl,
		history:   opts.History,
		exportDir: opts.ExportDir,
		in:        in,
		out:       out,
		logger:    logger.With().Str("component", "console").Logger(),
	}
}

// OnEvent re-prints the dashboard when a poll changed what is on screen.
func (c *Console) OnEvent(e events.Event) {
	if e.Type != events.QueueRefreshed {
		return
	}
	c.show(false)
}

// Run processes commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	c.print(render.Login(""))
	c.print("Type help for commands.\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.Exec(ctx, line) {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if status, ok := shortcuts[cmd]; ok {
		c.setStatus(ctx, status)
		return false
	}

	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		c.print(helpText + "\n")
	case "login":
		c.login(ctx, args)
	case "logout":
		c.ctrl.Logout()
		c.reset()
		c.print(render.Login(""))
	case "stores":
		c.stores(ctx)
	case "store":
		c.selectStore(args)
	case "select", "open":
		c.selectBooking(args)
	case "back", "close":
		c.ctrl.ClearSelection()
		c.show(true)
	case "status":
		if len(args) != 1 {
			c.print("usage: status <STATUS>\n")
			return false
		}
		status, err := models.ParseStatus(args[0])
		if err != nil {
			c.print(err.Error() + "\n")
			return false
		}
		c.setStatus(ctx, status)
	case "incident":
		c.incident(ctx, args)
	case "refresh":
		c.refresh(ctx)
	case "show":
		c.show(true)
	case "export":
		c.export(args)
	case "history":
		c.showHistory(ctx, args)
	default:
		c.print(fmt.Sprintf("unknown command %q, type help\n", cmd))
	}
	return false
}

func (c *Console) login(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.print("usage: login <email> <password>\n")
		return
	}
	if err := c.ctrl.Login(ctx, args[0], args[1]); err != nil {
		c.print(render.Login(c.ctrl.View().LoginError))
		return
	}
	c.show(true)
}

func (c *Console) stores(ctx context.Context) {
	v := c.ctrl.View()
	if len(v.Stores) == 0 {
		if err := c.ctrl.LoadStores(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("list stores failed")
		}
		v = c.ctrl.View()
	}
	c.print(render.Stores(v.Stores, v.StoreID))
}

func (c *Console) selectStore(args []string) {
	if len(args) != 1 {
		c.print("usage: store <id>\n")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.print("store id must be a number\n")
		return
	}
	if err := c.ctrl.SelectStore(id); err != nil {
		c.explain(err)
		return
	}
	c.show(true)
}

func (c *Console) selectBooking(args []string) {
	if len(args) != 1 {
		c.print("usage: select <n|id|code>\n")
		return
	}
	id, ok := resolveBooking(c.ctrl.View().Queue, args[0])
	if !ok {
		c.print(fmt.Sprintf("no booking %q in today's queue\n", args[0]))
		return
	}
	if err := c.ctrl.SelectBooking(id); err != nil {
		c.explain(err)
		return
	}
	c.show(true)
}

// resolveBooking matches a 1-based queue position, a booking id or a code.
func resolveBooking(queue []models.Booking, ref string) (string, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(queue) {
		return queue[n-1].ID, true
	}
	for _, b := range queue {
		if b.ID == ref || strings.EqualFold(b.BookingCode, ref) {
			return b.ID, true
		}
	}
	return "", false
}

func (c *Console) refresh(ctx context.Context) {
	before := c.lastKey()
	if err := c.ctrl.Refresh(ctx); err != nil {
		c.explain(err)
		return
	}
	// A changed queue was already printed by OnEvent.
	if c.lastKey() == before {
		c.show(true)
	}
}

func (c *Console) setStatus(ctx context.Context, status models.Status) {
	err := c.ctrl.SetStatus(ctx, status)
	if err != nil {
		c.explain(err)
		return
	}
	c.show(false)
}

func (c *Console) incident(ctx context.Context, args []string) {
	if len(args) < 3 {
		c.print("usage: incident <severity> <category> <note...>\n")
		return
	}
	id, err := c.ctrl.ReportIncident(ctx, args[0], args[1], strings.Join(args[2:], " "))
	if err != nil {
		c.explain(err)
		return
	}
	c.print(fmt.Sprintf("incident %s recorded\n", id))
}

func (c *Console) export(args []string) {
	dir := c.exportDir
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.print(fmt.Sprintf("export failed: %v\n", err))
		return
	}
	path := filepath.Join(dir, c.ctrl.ExportFilename())
	f, err := os.Create(path)
	if err != nil {
		c.print(fmt.Sprintf("export failed: %v\n", err))
		return
	}
	err = c.ctrl.ExportQueue(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		c.explain(err)
		return
	}
	c.print("saved " + path + "\n")
}

func (c *Console) showHistory(ctx context.Context, args []string) {
	if c.history == nil {
		c.print("history is not enabled\n")
		return
	}
	actor := c.ctrl.Actor()
	if actor == "" {
		c.explain(dashboard.ErrNotAuthenticated)
		return
	}
	limit := 10
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := c.history.Recent(ctx, actor, limit)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read journal failed")
		c.print("history unavailable\n")
		return
	}
	c.print(render.History(entries, c.ctrl.Location()))
}

// explain prints precondition errors. Backend failures outside login are only
// logged; the next poll shows the real state.
func (c *Console) explain(err error) {
	switch {
	case errors.Is(err, dashboard.ErrNotAuthenticated):
		c.print("not logged in, use: login <email> <password>\n")
	case errors.Is(err, dashboard.ErrNoSelection):
		c.print("select a booking first\n")
	case errors.Is(err, dashboard.ErrNoStore):
		c.print("select a store first\n")
	case errors.Is(err, dashboard.ErrUnknownStore), errors.Is(err, dashboard.ErrBookingNotFound):
		c.print(err.Error() + "\n")
	default:
		c.logger.Debug().Err(err).Msg("command failed")
	}
}

func (c *Console) show(force bool) {
	v := c.ctrl.View()
	if !v.Authenticated {
		return
	}
	// The refresh clock alone does not count as a change.
	unclocked := v
	unclocked.RefreshedAt = time.Time{}
	key := render.Dashboard(unclocked, c.ctrl.Location())

	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && key == c.last {
		return
	}
	c.last = key
	fmt.Fprintln(c.out, render.Dashboard(v, c.ctrl.Location()))
}

func (c *Console) lastKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Console) reset() {
	c.mu.Lock()
	c.last = ""
	c.mu.Unlock()
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s)
}

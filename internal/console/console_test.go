package console

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/events"
	"bontle/internal/journal"
	"bontle/internal/models"
	"bontle/internal/queueapi"
	"bontle/internal/queueapi/queueapitest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type fixture struct {
	srv  *queueapitest.Server
	ctrl *dashboard.Controller
	con  *Console
	out  *syncBuffer
	db   *journal.DB
}

func newFixture(t *testing.T, in string) *fixture {
	t.Helper()
	srv := queueapitest.New(t)
	db, err := journal.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus()
	ctrl := dashboard.New(queueapi.NewClient(srv.URL, time.Second), dashboard.Options{
		Key:          "console",
		PollInterval: time.Hour,
		Location:     time.UTC,
		Now:          func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) },
		Bus:          bus,
		Journal:      db,
	})
	t.Cleanup(ctrl.Close)

	out := &syncBuffer{}
	con := New(ctrl, strings.NewReader(in), out, Options{ExportDir: t.TempDir(), History: db})
	bus.Subscribe(events.QueueRefreshed, con.OnEvent)
	return &fixture{srv: srv, ctrl: ctrl, con: con, out: out, db: db}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.con.Exec(context.Background(), "login "+queueapitest.Email+" "+queueapitest.Password)
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "[Bookings: 2]")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogin_Failure(t *testing.T) {
	f := newFixture(t, "")
	f.con.Exec(context.Background(), "login manager@demo.local nope")

	out := f.out.String()
	assert.Contains(t, out, "Incorrect email or password")
	assert.Contains(t, out, "Error:")
	assert.False(t, f.ctrl.View().Authenticated)
}

func TestLogin_Usage(t *testing.T) {
	f := newFixture(t, "")
	f.con.Exec(context.Background(), "login only-email")
	assert.Contains(t, f.out.String(), "usage: login")
}

func TestLogin_ShowsDashboard(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)

	out := f.out.String()
	assert.Contains(t, out, "manager@demo.local • MANAGER")
	assert.Contains(t, out, "Store: Rosebank (Johannesburg)")
	assert.Contains(t, out, "08:00 [SCHEDULED] BNT-0001")
	assert.Contains(t, out, "Select a booking to view details.")
}

func TestSelectAndStatus(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)
	ctx := context.Background()

	f.con.Exec(ctx, "select BNT-0001")
	assert.Contains(t, f.out.String(), "Booking BNT-0001 [SCHEDULED]")

	f.out.Reset()
	f.con.Exec(ctx, "arrived")
	assert.Contains(t, f.out.String(), "Booking BNT-0001 [ARRIVED]")

	b, ok := f.srv.Booking("bk-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusArrived, b.Status)
	assert.Equal(t, 1, f.srv.Requests("PATCH /bookings/bk-1/status"))
}

func TestStatus_RejectedKeepsScreen(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)
	ctx := context.Background()

	f.con.Exec(ctx, "select 1")
	f.out.Reset()
	f.con.Exec(ctx, "status completed")

	assert.Empty(t, f.out.String())
	assert.Equal(t, models.StatusScheduled, f.ctrl.View().Selected.Status)

	f.con.Exec(ctx, "history")
	assert.Contains(t, f.out.String(), "SCHEDULED -> COMPLETED (rejected: ")
}

func TestStatus_Preconditions(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.con.Exec(ctx, "arrived")
	assert.Contains(t, f.out.String(), "not logged in")

	f.login(t)
	f.out.Reset()
	f.con.Exec(ctx, "noshow")
	assert.Contains(t, f.out.String(), "select a booking first")

	f.out.Reset()
	f.con.Exec(ctx, "status DONE")
	assert.Contains(t, f.out.String(), "unknown status")
}

func TestSelect_Unknown(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)

	f.out.Reset()
	f.con.Exec(context.Background(), "select 9")
	assert.Contains(t, f.out.String(), `no booking "9"`)
}

func TestResolveBooking(t *testing.T) {
	q := []models.Booking{{ID: "x1", BookingCode: "BNT-A"}, {ID: "x2", BookingCode: "BNT-B"}}

	id, ok := resolveBooking(q, "2")
	assert.True(t, ok)
	assert.Equal(t, "x2", id)

	id, ok = resolveBooking(q, "bnt-a")
	assert.True(t, ok)
	assert.Equal(t, "x1", id)

	id, ok = resolveBooking(q, "x2")
	assert.True(t, ok)
	assert.Equal(t, "x2", id)

	_, ok = resolveBooking(q, "3")
	assert.False(t, ok)
}

func TestStoresAndSwitch(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)
	ctx := context.Background()

	f.out.Reset()
	f.con.Exec(ctx, "stores")
	assert.Contains(t, f.out.String(), "* 1  Rosebank (Johannesburg)")
	assert.Contains(t, f.out.String(), "  2  Menlyn (Pretoria)")

	f.out.Reset()
	f.con.Exec(ctx, "store 2")
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "No bookings yet.") && strings.Contains(f.out.String(), "[Bookings: 0]")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.out.String(), "Store: Menlyn (Pretoria)")

	f.out.Reset()
	f.con.Exec(ctx, "store 42")
	assert.Contains(t, f.out.String(), "unknown store")
}

func TestRefresh_PicksUpChanges(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)

	f.srv.SetQueue(1, []models.Booking{{ID: "bk-9", BookingCode: "BNT-0009", Status: models.StatusScheduled, StoreID: 1}})
	f.out.Reset()
	f.con.Exec(context.Background(), "refresh")
	assert.Contains(t, f.out.String(), "BNT-0009")

	f.out.Reset()
	f.con.Exec(context.Background(), "refresh")
	assert.Contains(t, f.out.String(), "BNT-0009", "unchanged queue is still shown on demand")
}

func TestIncident(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)
	ctx := context.Background()

	f.con.Exec(ctx, "select 2")
	f.out.Reset()
	f.con.Exec(ctx, "incident low service customer waited long")
	assert.Contains(t, f.out.String(), "incident inc-1 recorded")

	incidents := f.srv.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "bk-2", incidents[0].BookingID)
	assert.Equal(t, "LOW", incidents[0].Severity)
	assert.Equal(t, "customer waited long", incidents[0].Note)
}

func TestExport(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)
	dir := t.TempDir()

	f.out.Reset()
	f.con.Exec(context.Background(), "export "+dir)
	path := filepath.Join(dir, "queue_store1_2026-10-19.xlsx")
	assert.Contains(t, f.out.String(), "saved "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestLogout_StopsTraffic(t *testing.T) {
	f := newFixture(t, "")
	f.login(t)

	f.con.Exec(context.Background(), "logout")
	assert.False(t, f.ctrl.View().Authenticated)

	before := f.srv.Total()
	f.con.Exec(context.Background(), "refresh")
	assert.Equal(t, before, f.srv.Total())
	assert.Contains(t, f.out.String(), "not logged in")
}

func TestRun_QuitAndEOF(t *testing.T) {
	f := newFixture(t, "help\nbogus\nquit\nshow\n")
	require.NoError(t, f.con.Run(context.Background()))

	out := f.out.String()
	assert.Contains(t, out, "Bontle Staff")
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, `unknown command "bogus"`)

	f2 := newFixture(t, "help\n")
	require.NoError(t, f2.con.Run(context.Background()))
}

func TestRun_ContextCancel(t *testing.T) {
	f := newFixture(t, "")
	pr, pw := io.Pipe()
	defer pw.Close()
	f.con.in = pr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.con.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

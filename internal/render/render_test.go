package render

import (
	"strings"
	"testing"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/journal"
	"bontle/internal/models"

	"github.com/stretchr/testify/assert"
)

func sampleView() dashboard.View {
	consultant := int64(4)
	return dashboard.View{
		Authenticated: true,
		User:          models.User{Email: "manager@demo.local", Role: "MANAGER"},
		Stores:        []models.Store{{ID: 1, Name: "Rosebank", City: "Johannesburg"}},
		StoreID:       1,
		Queue: []models.Booking{
			{ID: "a", BookingCode: "BNT-A", ScheduledStartAt: time.Date(2026, 10, 19, 8, 5, 0, 0, time.UTC), Status: models.StatusScheduled, StoreID: 1, ServiceID: 2, SourceChannel: "TELEGRAM"},
			{ID: "b", BookingCode: "BNT-B", ScheduledStartAt: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC), Status: models.StatusArrived, StoreID: 1, ServiceID: 3, ConsultantID: &consultant, SourceChannel: "WALK_IN"},
		},
	}
}

func TestLogin(t *testing.T) {
	out := Login("")
	assert.Contains(t, out, Product)
	assert.Contains(t, out, DemoHint)
	assert.NotContains(t, out, "Error:")

	out = Login(`{"detail":"Incorrect email or password"}`)
	assert.Contains(t, out, `Error: {"detail":"Incorrect email or password"}`)
}

func TestDashboard_LoggedOutShowsLogin(t *testing.T) {
	out := Dashboard(dashboard.View{LoginError: "boom"}, time.UTC)
	assert.Contains(t, out, "Error: boom")
	assert.NotContains(t, out, "Today's queue")
}

func TestDashboard(t *testing.T) {
	v := sampleView()
	out := Dashboard(v, time.UTC)

	assert.Contains(t, out, "manager@demo.local • MANAGER")
	assert.Contains(t, out, "Store: Rosebank (Johannesburg)")
	assert.Contains(t, out, "[Bookings: —] [Completed: —] [No-show: —] [Cancelled: —]")
	assert.Contains(t, out, "08:05 [SCHEDULED] BNT-A")
	assert.Contains(t, out, "09:30 [ARRIVED] BNT-B")
	assert.Contains(t, out, NoDetail)
}

func TestKPIs(t *testing.T) {
	out := KPIs(&models.KPISnapshot{Bookings: 12, Completed: 5, NoShow: 1, Cancelled: 0})
	assert.Equal(t, "[Bookings: 12] [Completed: 5] [No-show: 1] [Cancelled: 0]\n", out)
}

func TestQueue_EmptyAndSelected(t *testing.T) {
	assert.Contains(t, Queue(nil, nil, time.UTC), EmptyQueue)

	v := sampleView()
	sel := v.Queue[1]
	out := Queue(v.Queue, &sel, time.UTC)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], ">"))
	assert.True(t, strings.HasPrefix(lines[1], " "))
}

func TestDetail(t *testing.T) {
	v := sampleView()

	out := Detail(&v.Queue[0], time.UTC)
	assert.Contains(t, out, "Booking BNT-A [SCHEDULED]")
	assert.Contains(t, out, "Start: 2026-10-19 08:05")
	assert.Contains(t, out, "Store ID: 1")
	assert.Contains(t, out, "Service ID: 2")
	assert.Contains(t, out, "Consultant: Auto")
	assert.Contains(t, out, "Channel: TELEGRAM")
	assert.Contains(t, out, "Actions: Arrived | In Service | Completed | No-show | Cancel")
	assert.Contains(t, out, ServerNote)

	out = Detail(&v.Queue[1], time.UTC)
	assert.Contains(t, out, "Consultant: 4")
}

func TestQueueLine_UsesLocation(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)
	b := sampleView().Queue[0]
	assert.Equal(t, "10:05 [SCHEDULED] BNT-A", QueueLine(b, loc))
}

func TestStoreLabel(t *testing.T) {
	v := sampleView()
	assert.Equal(t, "Rosebank (Johannesburg)", StoreLabel(v))

	v.StoreID = 9
	assert.Equal(t, "#9", StoreLabel(v))

	v.StoreID = 0
	assert.Equal(t, NoValue, StoreLabel(v))
}

func TestStores(t *testing.T) {
	out := Stores([]models.Store{{ID: 1, Name: "Rosebank", City: "Johannesburg"}, {ID: 2, Name: "Menlyn"}}, 2)
	assert.Contains(t, out, "  1  Rosebank (Johannesburg)")
	assert.Contains(t, out, "* 2  Menlyn")
	assert.Contains(t, Stores(nil, 0), "No stores")
}

func TestHistory(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	out := History([]journal.Entry{
		{Kind: journal.KindStatus, BookingCode: "BNT-A", FromStatus: "SCHEDULED", ToStatus: "ARRIVED", CreatedAt: at},
		{Kind: journal.KindStatus, BookingCode: "BNT-A", FromStatus: "ARRIVED", ToStatus: "NO_SHOW", Error: "Invalid transition", CreatedAt: at},
		{Kind: journal.KindIncident, BookingID: "b", Detail: "LOW/SERVICE: late", CreatedAt: at},
	}, time.UTC)

	assert.Contains(t, out, "10-19 09:00  BNT-A SCHEDULED -> ARRIVED (ok)")
	assert.Contains(t, out, "ARRIVED -> NO_SHOW (rejected: Invalid transition)")
	assert.Contains(t, out, "b incident LOW/SERVICE: late (ok)")
	assert.Contains(t, History(nil, time.UTC), "No actions")
}

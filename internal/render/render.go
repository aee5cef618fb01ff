// Package render turns dashboard snapshots into plain text shared by the
// console and the Telegram bot.
package render

import (
	"fmt"
	"strings"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/journal"
	"bontle/internal/models"
)

const (
	Product    = "Bontle Staff"
	Subtitle   = "Queue dashboard"
	DemoHint   = "Demo: manager@demo.local / Password123!"
	NoValue    = "—"
	EmptyQueue = "No bookings yet."
	NoDetail   = "Select a booking to view details."
	AutoAssign = "Auto"
	ServerNote = "Status transitions are validated server-side."
)

// Login renders the login screen. errText is shown verbatim when set.
func Login(errText string) string {
	var sb strings.Builder
	sb.WriteString(Product + "\n")
	sb.WriteString("Sign in to manage today's queue.\n\n")
	if errText != "" {
		sb.WriteString("Error: " + errText + "\n\n")
	}
	sb.WriteString(DemoHint + "\n")
	return sb.String()
}

// Dashboard renders the full two-pane dashboard.
func Dashboard(v dashboard.View, loc *time.Location) string {
	if !v.Authenticated {
		return Login(v.LoginError)
	}
	sections := []string{
		Header(v, loc),
		KPIs(v.KPIs),
		Queue(v.Queue, v.Selected, loc),
		Detail(v.Selected, loc),
	}
	return strings.Join(sections, "\n")
}

// Header shows the product, the user and the selected store.
func Header(v dashboard.View, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s · %s\n", Product, Subtitle)
	fmt.Fprintf(&sb, "%s • %s\n", v.User.Email, v.User.Role)
	fmt.Fprintf(&sb, "Store: %s\n", StoreLabel(v))
	if !v.ExpiresAt.IsZero() {
		fmt.Fprintf(&sb, "Session until %s\n", v.ExpiresAt.In(zone(loc)).Format("15:04"))
	}
	if !v.RefreshedAt.IsZero() {
		fmt.Fprintf(&sb, "Updated %s\n", v.RefreshedAt.In(zone(loc)).Format("15:04:05"))
	}
	return sb.String()
}

// StoreLabel names the selected store, falling back to its id.
func StoreLabel(v dashboard.View) string {
	if s, ok := v.Store(); ok {
		return StoreName(s)
	}
	if v.StoreID != 0 {
		return fmt.Sprintf("#%d", v.StoreID)
	}
	return NoValue
}

// StoreName is "Name (City)".
func StoreName(s models.Store) string {
	if s.City == "" {
		return s.Name
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.City)
}

// KPIs renders the four KPI cards.
func KPIs(k *models.KPISnapshot) string {
	cards := []struct {
		label string
		value func(*models.KPISnapshot) int
	}{
		{"Bookings", func(k *models.KPISnapshot) int { return k.Bookings }},
		{"Completed", func(k *models.KPISnapshot) int { return k.Completed }},
		{"No-show", func(k *models.KPISnapshot) int { return k.NoShow }},
		{"Cancelled", func(k *models.KPISnapshot) int { return k.Cancelled }},
	}
	parts := make([]string, 0, len(cards))
	for _, c := range cards {
		value := NoValue
		if k != nil {
			value = fmt.Sprint(c.value(k))
		}
		parts = append(parts, fmt.Sprintf("[%s: %s]", c.label, value))
	}
	return strings.Join(parts, " ") + "\n"
}

// Queue lists today's bookings; the selected one is marked.
func Queue(queue []models.Booking, selected *models.Booking, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("Today's queue\n")
	if len(queue) == 0 {
		sb.WriteString(EmptyQueue + "\n")
		return sb.String()
	}
	for i, b := range queue {
		marker := " "
		if selected != nil && selected.ID == b.ID {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s %2d. %s\n", marker, i+1, QueueLine(b, loc))
	}
	return sb.String()
}

// QueueLine is "HH:MM [PILL] CODE".
func QueueLine(b models.Booking, loc *time.Location) string {
	return fmt.Sprintf("%s %s %s", b.ScheduledStartAt.In(zone(loc)).Format("15:04"), Pill(b.Status), b.BookingCode)
}

// Pill renders a status badge.
func Pill(s models.Status) string {
	return "[" + string(s) + "]"
}

// Detail renders the booking detail pane.
func Detail(b *models.Booking, loc *time.Location) string {
	if b == nil {
		return NoDetail + "\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Booking %s %s\n", b.BookingCode, Pill(b.Status))
	fmt.Fprintf(&sb, "Start: %s\n", b.ScheduledStartAt.In(zone(loc)).Format("2006-01-02 15:04"))
	if b.ScheduledEndAt != nil {
		fmt.Fprintf(&sb, "End: %s\n", b.ScheduledEndAt.In(zone(loc)).Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&sb, "Store ID: %d\n", b.StoreID)
	fmt.Fprintf(&sb, "Service ID: %d\n", b.ServiceID)
	fmt.Fprintf(&sb, "Consultant: %s\n", Consultant(b))
	fmt.Fprintf(&sb, "Channel: %s\n", b.SourceChannel)

	labels := make([]string, 0, len(models.Actions))
	for _, s := range models.Actions {
		labels = append(labels, s.Label())
	}
	fmt.Fprintf(&sb, "Actions: %s\n", strings.Join(labels, " | "))
	sb.WriteString(ServerNote + "\n")
	return sb.String()
}

// Consultant shows the assigned consultant id or "Auto".
func Consultant(b *models.Booking) string {
	if b.ConsultantID == nil {
		return AutoAssign
	}
	return fmt.Sprint(*b.ConsultantID)
}

// Stores lists the stores, marking the selected one.
func Stores(stores []models.Store, selected int64) string {
	if len(stores) == 0 {
		return "No stores available.\n"
	}
	var sb strings.Builder
	for _, s := range stores {
		marker := " "
		if s.ID == selected {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %d  %s\n", marker, s.ID, StoreName(s))
	}
	return sb.String()
}

// History lists journal entries, newest first.
func History(entries []journal.Entry, loc *time.Location) string {
	if len(entries) == 0 {
		return "No actions recorded.\n"
	}
	var sb strings.Builder
	for _, e := range entries {
		result := "ok"
		if !e.OK() {
			result = "rejected: " + e.Error
		}
		ts := e.CreatedAt.In(zone(loc)).Format("01-02 15:04")
		code := e.BookingCode
		if code == "" {
			code = e.BookingID
		}
		switch e.Kind {
		case journal.KindStatus:
			fmt.Fprintf(&sb, "%s  %s %s -> %s (%s)\n", ts, code, e.FromStatus, e.ToStatus, result)
		default:
			fmt.Fprintf(&sb, "%s  %s incident %s (%s)\n", ts, code, e.Detail, result)
		}
	}
	return sb.String()
}

func zone(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

package bot

import (
	"fmt"
	"strings"
	"time"

	"bontle/internal/dashboard"
	"bontle/internal/models"
	"bontle/internal/render"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbBooking = "bk:"
	cbStatus  = "st:"
	cbPage    = "page:"
	cbStore   = "store:"
	cbRefresh = "refresh"
	cbBack    = "back"
	cbStores  = "stores"
	cbNoop    = "noop"
)

type dashboardMessage struct {
	text   string
	markup tgbotapi.InlineKeyboardMarkup
	page   int // page after clamping to the queue length
}

// key identifies the rendered content so unchanged dashboards are not re-sent.
func (m dashboardMessage) key() string {
	var sb strings.Builder
	sb.WriteString(m.text)
	for _, row := range m.markup.InlineKeyboard {
		sb.WriteByte('\n')
		for _, btn := range row {
			sb.WriteString(btn.Text)
			if btn.CallbackData != nil {
				sb.WriteString("=" + *btn.CallbackData)
			}
			sb.WriteByte(';')
		}
	}
	return sb.String()
}

func pageCount(total, perPage int) int {
	if total == 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

func clampPage(page, total, perPage int) int {
	last := pageCount(total, perPage) - 1
	if page > last {
		page = last
	}
	if page < 0 {
		page = 0
	}
	return page
}

// buildDashboard renders one page of the queue with its keyboard.
func buildDashboard(v dashboard.View, page, perPage int, loc *time.Location) dashboardMessage {
	page = clampPage(page, len(v.Queue), perPage)
	startIdx := page * perPage
	endIdx := startIdx + perPage
	if endIdx > len(v.Queue) {
		endIdx = len(v.Queue)
	}
	current := v.Queue[startIdx:endIdx]

	var message strings.Builder
	message.WriteString(render.Header(v, loc))
	message.WriteString("\n")
	message.WriteString(render.KPIs(v.KPIs))
	message.WriteString("\n")
	if len(v.Queue) == 0 {
		message.WriteString(render.EmptyQueue + "\n")
	} else {
		message.WriteString(fmt.Sprintf("Today's queue, page %d of %d\n", page+1, pageCount(len(v.Queue), perPage)))
		for i, b := range current {
			marker := "  "
			if v.Selected != nil && v.Selected.ID == b.ID {
				marker = "▶ "
			}
			message.WriteString(fmt.Sprintf("%s%d. %s\n", marker, startIdx+i+1, render.QueueLine(b, loc)))
		}
	}
	message.WriteString("\n")
	message.WriteString(render.Detail(v.Selected, loc))

	var keyboard [][]tgbotapi.InlineKeyboardButton

	var row []tgbotapi.InlineKeyboardButton
	for i, b := range current {
		label := fmt.Sprintf("%d. %s %s", startIdx+i+1, b.ScheduledStartAt.In(loc).Format("15:04"), b.BookingCode)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbBooking+b.ID))
		if len(row) == 2 {
			keyboard = append(keyboard, row)
			row = nil
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}

	var navButtons []tgbotapi.InlineKeyboardButton
	if page > 0 {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("⬅️ Prev", fmt.Sprintf("%s%d", cbPage, page-1)))
	}
	if endIdx < len(v.Queue) {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("%s%d", cbPage, page+1)))
	}
	if len(navButtons) > 0 {
		keyboard = append(keyboard, navButtons)
	}

	if v.Selected != nil {
		keyboard = append(keyboard, statusRows()...)
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✖️ Close", cbBack),
		})
	}

	keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbRefresh),
		tgbotapi.NewInlineKeyboardButtonData("🏬 Stores", cbStores),
	})

	return dashboardMessage{
		text:   message.String(),
		markup: tgbotapi.NewInlineKeyboardMarkup(keyboard...),
		page:   page,
	}
}

func statusRows() [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, s := range models.Actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.Label(), cbStatus+string(s)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// storesKeyboard lists stores, marking the selected one.
func storesKeyboard(stores []models.Store, selected int64) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, s := range stores {
		label := render.StoreName(s)
		if s.ID == selected {
			label = "✅ " + label
		}
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%d", cbStore, s.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

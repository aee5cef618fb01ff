// Package export writes the on-screen queue as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"bontle/internal/models"

	"github.com/xuri/excelize/v2"
)

var queueColumns = []string{"Time", "Booking code", "Status", "Store ID", "Service ID", "Consultant ID", "Channel", "Booking ID"}

var kpiColumns = []string{"Store ID", "Date", "Bookings", "Completed", "No-show", "Cancelled"}

// QueueSheet is the data for one queue workbook.
type QueueSheet struct {
	Queue []models.Booking
	KPIs  *models.KPISnapshot
	Loc   *time.Location
}

// Filename returns e.g. "queue_store3_2026-10-19.xlsx".
func Filename(storeID int64, day time.Time) string {
	return fmt.Sprintf("queue_store%d_%s.xlsx", storeID, day.Format("2006-01-02"))
}

// WriteQueue writes the queue and, when present, the KPI snapshot as an xlsx workbook.
func WriteQueue(out io.Writer, data QueueSheet) error {
	loc := data.Loc
	if loc == nil {
		loc = time.Local
	}

	wb, err := newWorkbook()
	if err != nil {
		return err
	}
	defer wb.file.Close()

	rows := make([][]interface{}, 0, len(data.Queue))
	for _, b := range data.Queue {
		consultant := "Auto"
		if b.ConsultantID != nil {
			consultant = fmt.Sprint(*b.ConsultantID)
		}
		rows = append(rows, []interface{}{
			b.ScheduledStartAt.In(loc).Format("15:04"),
			b.BookingCode,
			string(b.Status),
			b.StoreID,
			b.ServiceID,
			consultant,
			b.SourceChannel,
			b.ID,
		})
	}
	if err := wb.sheet("Queue", queueColumns, rows); err != nil {
		return err
	}

	if k := data.KPIs; k != nil {
		row := []interface{}{k.StoreID, k.Date, k.Bookings, k.Completed, k.NoShow, k.Cancelled}
		if err := wb.sheet("KPIs", kpiColumns, [][]interface{}{row}); err != nil {
			return err
		}
	}

	return wb.file.Write(out)
}

type workbook struct {
	file   *excelize.File
	bold   int
	sheets int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	return &workbook{file: f, bold: bold}, nil
}

// sheet adds a sheet with a bold header row and a frozen header pane. The
// first call renames the default sheet.
func (w *workbook) sheet(name string, header []string, rows [][]interface{}) error {
	if w.sheets == 0 {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheets++

	if err := w.file.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(name, "A1", last, w.bold); err != nil {
		return fmt.Errorf("%s header style: %w", name, err)
	}
	if err := w.file.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("%s panes: %w", name, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := w.file.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", name, i+1, err)
		}
	}
	return nil
}

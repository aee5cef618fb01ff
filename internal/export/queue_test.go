package export

import (
	"bytes"
	"testing"
	"time"

	"bontle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteQueue(t *testing.T) {
	consultant := int64(4)
	data := QueueSheet{
		Queue: []models.Booking{
			{ID: "a", BookingCode: "BNT-A", ScheduledStartAt: time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC), Status: models.StatusScheduled, StoreID: 3, ServiceID: 1, SourceChannel: "TELEGRAM"},
			{ID: "b", BookingCode: "BNT-B", ScheduledStartAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), Status: models.StatusArrived, StoreID: 3, ServiceID: 2, ConsultantID: &consultant, SourceChannel: "WALK_IN"},
		},
		KPIs: &models.KPISnapshot{StoreID: 3, Date: "2026-10-19", Bookings: 2, Completed: 0, NoShow: 0, Cancelled: 0},
		Loc:  time.UTC,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteQueue(&buf, data))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Queue", "KPIs"}, f.GetSheetList())

	rows, err := f.GetRows("Queue")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Booking code", rows[0][1])
	assert.Equal(t, "08:15", rows[1][0])
	assert.Equal(t, "Auto", rows[1][5])
	assert.Equal(t, "4", rows[2][5])
	assert.Equal(t, "ARRIVED", rows[2][2])

	panes, err := f.GetPanes("Queue")
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, "A2", panes.TopLeftCell)

	kpis, err := f.GetRows("KPIs")
	require.NoError(t, err)
	require.Len(t, kpis, 2)
	assert.Equal(t, "2026-10-19", kpis[1][1])
}

func TestWriteQueue_EmptyWithoutKPIs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteQueue(&buf, QueueSheet{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Queue"}, f.GetSheetList())
	rows, err := f.GetRows("Queue")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "queue_store3_2026-10-19.xlsx", Filename(3, time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)))
}

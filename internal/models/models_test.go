package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected Status
		ok       bool
	}{
		{"ARRIVED", StatusArrived, true},
		{"in_service", StatusInService, true},
		{"no-show", StatusNoShow, true},
		{" completed ", StatusCompleted, true},
		{"in service", StatusInService, true},
		{"DONE", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		s, err := ParseStatus(tt.input)
		if tt.ok {
			assert.NoError(t, err, "input: %s", tt.input)
		} else {
			assert.Error(t, err, "input: %s", tt.input)
		}
		assert.Equal(t, tt.expected, s, "input: %s", tt.input)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("arrived").Valid())
	assert.Len(t, Statuses, 6)
}

func TestBooking_UnmarshalJSON(t *testing.T) {
	t.Run("NaiveTimestamps", func(t *testing.T) {
		payload := `{
			"id": "b-1",
			"booking_code": "BNT-0001",
			"scheduled_start_at": "2026-10-19T09:30:00",
			"scheduled_end_at": "2026-10-19T10:00:00.123456",
			"status": "SCHEDULED",
			"store_id": 3,
			"service_id": 7,
			"consultant_id": null,
			"source_channel": "TELEGRAM"
		}`
		var b Booking
		require.NoError(t, json.Unmarshal([]byte(payload), &b))

		assert.Equal(t, "b-1", b.ID)
		assert.Equal(t, "BNT-0001", b.BookingCode)
		assert.Equal(t, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC), b.ScheduledStartAt)
		require.NotNil(t, b.ScheduledEndAt)
		assert.Equal(t, 10, b.ScheduledEndAt.Hour())
		assert.Equal(t, StatusScheduled, b.Status)
		assert.Equal(t, int64(3), b.StoreID)
		assert.Nil(t, b.ConsultantID)
		assert.Equal(t, "TELEGRAM", b.SourceChannel)
	})

	t.Run("ZonedTimestampAndConsultant", func(t *testing.T) {
		payload := `{"id":"b-2","scheduled_start_at":"2026-10-19T09:30:00+02:00","status":"ARRIVED","consultant_id":12}`
		var b Booking
		require.NoError(t, json.Unmarshal([]byte(payload), &b))

		assert.Equal(t, 7, b.ScheduledStartAt.UTC().Hour())
		assert.Nil(t, b.ScheduledEndAt)
		require.NotNil(t, b.ConsultantID)
		assert.Equal(t, int64(12), *b.ConsultantID)
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		var b Booking
		assert.Error(t, json.Unmarshal([]byte(`{"id":"x","scheduled_start_at":"yesterday"}`), &b))
	})
}

func TestFindBooking(t *testing.T) {
	list := []Booking{{ID: "a"}, {ID: "b", Status: StatusArrived}}

	b, ok := FindBooking(list, "b")
	assert.True(t, ok)
	assert.Equal(t, StatusArrived, b.Status)

	_, ok = FindBooking(list, "zzz")
	assert.False(t, ok)
}

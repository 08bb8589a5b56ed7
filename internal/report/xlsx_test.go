package report

import (
	"bytes"
	"testing"
	"time"

	"reservas/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func reservationRow(t *testing.T, id, room, status string, start time.Time) models.ReservationRow {
	t.Helper()
	iv, err := models.NewTimeInterval(start, start.Add(2*time.Hour))
	require.NoError(t, err)
	return models.ReservationRow{
		Reservation: models.Reservation{
			ID:       id,
			RoomID:   "id-" + room,
			Title:    "Reserva " + id,
			Kind:     models.KindAcademic,
			Status:   status,
			Interval: iv,
		},
		RoomName:  room,
		OwnerName: "Ana",
	}
}

func TestReservationsXLSX(t *testing.T) {
	day := time.Date(2030, 4, 1, 8, 0, 0, 0, time.UTC)
	rows := []models.ReservationRow{
		reservationRow(t, "r1", "Aula 1", models.StatusActive, day),
		reservationRow(t, "r2", "Aula 1", models.StatusActive, day.Add(3*time.Hour)),
		reservationRow(t, "r3", "Aula 2", models.StatusCancelled, day.AddDate(0, 0, 1)),
		reservationRow(t, "r4", "", models.StatusActive, day.AddDate(0, 0, 1)),
	}

	data, err := ReservationsXLSX(rows, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{listSheet, gridSheet}, f.GetSheetList())

	list, err := f.GetRows(listSheet)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, listHeaders, list[0])
	assert.Equal(t, "r1", list[1][0])
	assert.Equal(t, "Académico", list[1][2])
	assert.Equal(t, "Cancelada", list[3][3])
	assert.Equal(t, "01/04/2030", list[1][8])
	assert.Equal(t, "08:00", list[1][9])
	assert.Equal(t, "10:00", list[1][10])

	grid, err := f.GetRows(gridSheet)
	require.NoError(t, err)
	require.Len(t, grid, 3, "header plus two rooms with active reservations")
	assert.Equal(t, []string{"Aula", "01/04", "02/04"}, grid[0])
	assert.Equal(t, "Aula 1", grid[1][0])
	assert.Equal(t, "08:00-10:00 Reserva r1 (Ana)\n11:00-13:00 Reserva r2 (Ana)", grid[1][1])
	assert.Equal(t, "id-", grid[2][0])
	assert.Equal(t, "08:00-10:00 Reserva r4 (Ana)", grid[2][2])
}

func TestReservationsXLSX_Empty(t *testing.T) {
	data, err := ReservationsXLSX(nil, time.UTC)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	list, err := f.GetRows(listSheet)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"reservas/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	listSheet = "Reservas"
	gridSheet = "Ocupación"

	dateLayout  = "02/01/2006"
	clockLayout = "15:04"
)

var listHeaders = []string{
	"ID", "Título", "Tipo", "Estado", "Aula", "Ubicación", "Docente", "Correo", "Fecha", "Inicio", "Fin", "Creada",
}

var kindLabels = map[string]string{
	models.KindAcademic:    "Académico",
	models.KindNonAcademic: "No académico",
}

var statusLabels = map[string]string{
	models.StatusActive:    "Activa",
	models.StatusCancelled: "Cancelada",
}

// ReservationsXLSX renders rows into a workbook with a flat list sheet and a
// room by day occupancy grid. Times are shown in loc.
func ReservationsXLSX(rows []models.ReservationRow, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(listSheet)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeList(f, rows, loc); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(gridSheet); err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeGrid(f, rows, loc); err != nil {
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeList(f *excelize.File, rows []models.ReservationRow, loc *time.Location) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	for i, h := range listHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(listSheet, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(listHeaders))
	_ = f.SetCellStyle(listSheet, "A1", lastCol+"1", headerStyle)

	for i, row := range rows {
		r := row.Reservation
		start := r.Interval.Start().In(loc)
		values := []interface{}{
			r.ID,
			r.Title,
			label(kindLabels, r.Kind),
			label(statusLabels, r.Status),
			row.RoomName,
			row.RoomLocation,
			row.OwnerName,
			row.OwnerEmail,
			start.Format(dateLayout),
			start.Format(clockLayout),
			r.Interval.End().In(loc).Format(clockLayout),
			r.CreatedAt.In(loc).Format(dateLayout + " " + clockLayout),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(listSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(listSheet, "A", "A", 38)
	_ = f.SetColWidth(listSheet, "B", "B", 30)
	_ = f.SetColWidth(listSheet, "C", lastCol, 16)
	_ = f.SetPanes(listSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

// writeGrid puts rooms on rows and days on columns. Only active
// reservations occupy a cell.
func writeGrid(f *excelize.File, rows []models.ReservationRow, loc *time.Location) error {
	type key struct{ room, day string }

	cells := make(map[key][]string)
	roomSet := make(map[string]struct{})
	daySet := make(map[string]struct{})
	for _, row := range rows {
		r := row.Reservation
		if !r.IsActive() {
			continue
		}
		start := r.Interval.Start().In(loc)
		room := roomLabel(row)
		day := start.Format("2006-01-02")
		roomSet[room] = struct{}{}
		daySet[day] = struct{}{}
		cells[key{room, day}] = append(cells[key{room, day}], fmt.Sprintf("%s-%s %s (%s)",
			start.Format(clockLayout), r.Interval.End().In(loc).Format(clockLayout), r.Title, row.OwnerName))
	}

	rooms := sortedKeys(roomSet)
	days := sortedKeys(daySet)

	busyStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	_ = f.SetCellValue(gridSheet, "A1", "Aula")
	_ = f.SetCellStyle(gridSheet, "A1", "A1", headerStyle)
	for i, day := range days {
		cell, _ := excelize.CoordinatesToCellName(i+2, 1)
		d, _ := time.Parse("2006-01-02", day)
		_ = f.SetCellValue(gridSheet, cell, d.Format("02/01"))
		_ = f.SetCellStyle(gridSheet, cell, cell, headerStyle)
	}

	for r, room := range rooms {
		rowNum := r + 2
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		_ = f.SetCellValue(gridSheet, cell, room)
		_ = f.SetCellStyle(gridSheet, cell, cell, headerStyle)

		for c, day := range days {
			entries := cells[key{room, day}]
			if len(entries) == 0 {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+2, rowNum)
			text := ""
			for i, e := range entries {
				if i > 0 {
					text += "\n"
				}
				text += e
			}
			_ = f.SetCellValue(gridSheet, cell, text)
			_ = f.SetCellStyle(gridSheet, cell, cell, busyStyle)
		}
	}

	_ = f.SetColWidth(gridSheet, "A", "A", 25)
	if len(days) > 0 {
		lastCol, _ := excelize.ColumnNumberToName(len(days) + 1)
		_ = f.SetColWidth(gridSheet, "B", lastCol, 30)
	}
	return nil
}

func roomLabel(row models.ReservationRow) string {
	if row.RoomName == "" {
		return row.Reservation.RoomID
	}
	return row.RoomName
}

func label(labels map[string]string, v string) string {
	if l, ok := labels[v]; ok {
		return l
	}
	return v
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"reservas/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetTimeLayout = "2006-01-02 15:04"
	lastColumn      = "L"
)

var errRowNotFound = errors.New("reservation row not found")

var sheetHeaders = []interface{}{
	"ID", "Aula", "Ubicación", "Docente", "Email", "Título", "Tipo", "Inicio", "Fin", "Estado", "Creada", "Actualizada",
}

// SheetsService mirrors reservations into one sheet, one row per
// reservation keyed by the id in column A.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

// NewSheetsService authenticates with a service-account JSON file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, loc *time.Location) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsService(srv, spreadsheetID, sheetName, loc), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string, loc *time.Location) *SheetsService {
	if sheetName == "" {
		sheetName = "Reservas"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		loc:           loc,
		rowCache:      make(map[string]int),
	}
}

// TestConnection reads the header cell.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the header row.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	rangeData := fmt.Sprintf("%s!A1:%s1", s.sheetName, lastColumn)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{sheetHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache populates the row index cache by reading the id column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	ids, err := s.readIDColumn(ctx)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int, len(ids))
	for id, row := range ids {
		s.rowCache[id] = row
	}
	return nil
}

// UpsertReservation rewrites the reservation's row, appending it when the
// reservation is not in the sheet yet.
func (s *SheetsService) UpsertReservation(ctx context.Context, row models.ReservationRow) error {
	if row.Reservation.ID == "" {
		return fmt.Errorf("reservation id is required")
	}

	rowIdx, err := s.FindReservationRow(ctx, row.Reservation.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendRow(ctx, row)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(row)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// FindReservationRow returns the 1-based sheet row holding id.
func (s *SheetsService) FindReservationRow(ctx context.Context, id string) (int, error) {
	if row, ok := s.getCachedRow(id); ok {
		return row, nil
	}

	ids, err := s.readIDColumn(ctx)
	if err != nil {
		return 0, err
	}
	row, ok := ids[id]
	if !ok {
		return 0, errRowNotFound
	}
	s.setCachedRow(id, row)
	return row, nil
}

func (s *SheetsService) appendRow(ctx context.Context, row models.ReservationRow) error {
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(row)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	// appended row position is unknown until the next lookup
	s.deleteCachedRow(row.Reservation.ID)
	return nil
}

func (s *SheetsService) readIDColumn(ctx context.Context) (map[string]int, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id != "" && id != "ID" {
			// Values are zero-based; sheet rows are 1-based
			ids[id] = i + 1
		}
	}
	return ids, nil
}

func (s *SheetsService) rowValues(row models.ReservationRow) []interface{} {
	r := row.Reservation
	return []interface{}{
		r.ID,
		row.RoomName,
		row.RoomLocation,
		row.OwnerName,
		row.OwnerEmail,
		r.Title,
		r.Kind,
		r.Interval.Start().In(s.loc).Format(sheetTimeLayout),
		r.Interval.End().In(s.loc).Format(sheetTimeLayout),
		r.Status,
		r.CreatedAt.In(s.loc).Format(sheetTimeLayout),
		r.UpdatedAt.In(s.loc).Format(sheetTimeLayout),
	}
}

func (s *SheetsService) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCachedRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

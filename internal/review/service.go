// Package review exports pages that need a human look (failed or below the
// confidence floor) to a Google Sheet.
package review

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"scanocr/internal/logger"
	"scanocr/pkg/models"
)

// DefaultSheetName is used when no tab name is configured.
const DefaultSheetName = "OCR Review"

// excerptRunes bounds the text excerpt written per page.
const excerptRunes = 200

// Row statuses.
const (
	StatusFailed        = "failed"
	StatusLowConfidence = "low_confidence"
)

var headers = []interface{}{
	"Document", "Document ID", "Page", "Status", "Confidence", "Pass",
	"Engine", "Attempts", "Error", "Excerpt", "Processed",
}

// Service appends review rows to one spreadsheet.
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

// Row is one page that needs review.
type Row struct {
	Document    string
	DocumentID  string
	Page        int
	Status      string
	Confidence  float64
	Pass        string
	Engine      string
	Attempts    string
	Error       string
	Excerpt     string
	ProcessedAt string
}

// NewService creates a Sheets client from service account JSON credentials.
func NewService(ctx context.Context, sheetURL string, credentialsJSON []byte) (*Service, error) {
	const op = "NewService"

	log := logger.WithComponent("review")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	if len(credentialsJSON) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Review sheet ready")

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL.
func extractSpreadsheetID(url string) (string, error) {
	re := regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	matches := re.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", ErrInvalidSheetURL
	}
	return matches[1], nil
}

// Rows selects the pages of doc that need review.
func Rows(source string, doc *models.DocumentResult) []Row {
	if doc == nil {
		return nil
	}
	processedAt := doc.ProcessedAt.Format(time.RFC3339)

	var rows []Row
	for _, page := range doc.Pages {
		row := Row{
			Document:    source,
			DocumentID:  doc.ID,
			Page:        page.PageIndex + 1,
			Confidence:  page.Confidence,
			Pass:        page.Pass,
			Engine:      page.Engine,
			Attempts:    summarizeAttempts(page.Attempts),
			ProcessedAt: processedAt,
		}
		switch {
		case page.Failed():
			row.Status = StatusFailed
			row.Error = page.Err.Error()
		case page.LowConfidence:
			row.Status = StatusLowConfidence
			row.Excerpt = excerpt(page.Text, excerptRunes)
		default:
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteRows appends rows below the existing content of sheetName.
func (s *Service) WriteRows(ctx context.Context, rows []Row, sheetName string) error {
	const op = "WriteRows"

	if len(rows) == 0 {
		return nil
	}
	if sheetName == "" {
		sheetName = DefaultSheetName
	}

	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(rows)).
		Msg("Writing review rows to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.values())
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		sheetRange(sheetName, "A:"+columnName(len(headers))),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().Int("rows_written", len(values)).Msg("Wrote review rows")
	return nil
}

// ExportDocument writes the review rows of doc, if any.
func (s *Service) ExportDocument(ctx context.Context, source string, doc *models.DocumentResult, sheetName string) (int, error) {
	rows := Rows(source, doc)
	if err := s.WriteRows(ctx, rows, sheetName); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.Document,
		r.DocumentID,
		r.Page,
		r.Status,
		fmt.Sprintf("%.1f", r.Confidence),
		r.Pass,
		r.Engine,
		r.Attempts,
		r.Error,
		r.Excerpt,
		r.ProcessedAt,
	}
}

// ensureSheetWithHeaders creates the tab and its header row when missing.
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == sheetName {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	headerRange := sheetRange(sheetName, "A1:"+columnName(len(headers))+"1")
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")

	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{headers}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and resizes the columns.
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	cols := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   cols,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   cols,
				},
			},
		},
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}

// summarizeAttempts renders attempts as "book:42.0 auto:error".
func summarizeAttempts(attempts []models.PassAttempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Error != "" {
			parts = append(parts, a.Pass+":error")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%.1f", a.Pass, a.Confidence))
	}
	return strings.Join(parts, " ")
}

// excerpt shortens text to n runes on one line.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "…"
}

// sheetRange builds an A1 range with the sheet name quoted, so names with
// spaces or apostrophes resolve.
func sheetRange(sheetName, cells string) string {
	return "'" + strings.ReplaceAll(sheetName, "'", "''") + "'!" + cells
}

// columnName converts a 1-based column number to its A1 letter form.
func columnName(n int) string {
	var name []byte
	for n > 0 {
		n--
		name = append([]byte{byte('A' + n%26)}, name...)
		n /= 26
	}
	return string(name)
}

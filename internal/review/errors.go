package review

import "errors"

var (
	// ErrInvalidSheetURL is returned for URLs without a spreadsheet ID.
	ErrInvalidSheetURL = errors.New("invalid Google Sheets URL format")

	// ErrMissingCredentials is returned when no service account JSON is configured.
	ErrMissingCredentials = errors.New("no Google service account credentials configured")
)

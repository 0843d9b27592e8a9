// Package export renders a wedding's planning file as HTML or PDF.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	WeddingID        string
	Format           Format
	IncludeDismissed bool
	// RecentRecords caps the communications appendix; zero omits it.
	RecentRecords int
}

// Wedding is the header information of a planning file.
type Wedding struct {
	ID         string
	CoupleName string
	EventDate  *time.Time
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

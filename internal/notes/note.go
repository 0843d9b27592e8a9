// Package notes extracts planning notes from communications and manages their
// review lifecycle.
package notes

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"venueportal/api/internal/comms"
)

type Category string

const (
	CategoryVendor        Category = "vendor"
	CategoryVendorContact Category = "vendor_contact"
	CategoryGuestCount    Category = "guest_count"
	CategoryDecor         Category = "decor"
	CategoryCeremony      Category = "ceremony"
	CategoryAllergy       Category = "allergy"
	CategoryTimeline      Category = "timeline"
	CategoryColors        Category = "colors"
	CategoryNote          Category = "note"
)

// DefaultTaxonomy is the category list offered to extraction capabilities.
func DefaultTaxonomy() []Category {
	return []Category{
		CategoryVendor, CategoryVendorContact, CategoryGuestCount, CategoryDecor,
		CategoryCeremony, CategoryAllergy, CategoryTimeline, CategoryColors, CategoryNote,
	}
}

// TaxonomyFrom converts configured names, dropping blanks and duplicates.
func TaxonomyFrom(names []string) []Category {
	seen := make(map[Category]struct{}, len(names))
	out := make([]Category, 0, len(names))
	for _, name := range names {
		category := Category(strings.ToLower(strings.TrimSpace(name)))
		if category == "" {
			continue
		}
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		out = append(out, category)
	}
	return out
}

// ProviderCategory is the per-provider category used for facts that do not fit
// the taxonomy, so their origin stays visible.
func ProviderCategory(provider comms.Provider) Category {
	return Category(provider)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAdded     Status = "added"
	StatusConfirmed Status = "confirmed"
	StatusDismissed Status = "dismissed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAdded, StatusConfirmed, StatusDismissed:
		return true
	default:
		return false
	}
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusAdded, StatusDismissed, StatusConfirmed},
	StatusDismissed: {StatusPending},
}

// CanTransition reports whether a note may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var (
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrInvalidTransition = errors.New("invalid note status transition")
	// ErrDuplicateNote is returned only when reopening a note would collide
	// with an equivalent active note. Extraction suppresses duplicates silently.
	ErrDuplicateNote = errors.New("equivalent note already active")
)

type Note struct {
	ID             string         `json:"id"`
	WeddingID      string         `json:"weddingId"`
	Category       Category       `json:"category"`
	Content        string         `json:"content"`
	Excerpt        string         `json:"excerpt,omitempty"`
	ContentKey     string         `json:"-"`
	SourceProvider comms.Provider `json:"sourceProvider"`
	SourceRecordID string         `json:"sourceRecordId,omitempty"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Candidate is one fact proposed by an extraction capability.
type Candidate struct {
	Category Category `json:"category"`
	Content  string   `json:"content"`
	Excerpt  string   `json:"excerpt,omitempty"`
}

// NormalizeContent is the equality form used for deduplication.
func NormalizeContent(content string) string {
	return strings.ToLower(comms.CollapseWhitespace(content))
}

// ContentKey hashes the normalized content so the database can enforce
// uniqueness on a fixed-width column.
func ContentKey(content string) string {
	sum := blake2b.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Package identity attributes communications to weddings by exact contact match.
package identity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"venueportal/api/internal/comms"
)

var (
	// ErrUnattributable means no registered profile matches the record's contact.
	ErrUnattributable = errors.New("unattributable communication")
	// ErrAmbiguousIdentity means the contact matches more than one wedding.
	ErrAmbiguousIdentity = errors.New("ambiguous client identity")
)

// Profile is a registered person on a wedding's planning file.
type Profile struct {
	ID        string `json:"id"`
	WeddingID string `json:"weddingId"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Registry maps normalized emails and phone numbers to weddings. It only ever
// answers exact matches.
type Registry struct {
	byEmail map[string]map[string]struct{}
	byPhone map[string]map[string]struct{}
}

func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{
		byEmail: make(map[string]map[string]struct{}),
		byPhone: make(map[string]map[string]struct{}),
	}
	for _, profile := range profiles {
		r.Add(profile)
	}
	return r
}

// Add registers a profile. Profiles without a wedding are ignored.
func (r *Registry) Add(profile Profile) {
	if profile.WeddingID == "" {
		return
	}
	if email := NormalizeEmail(profile.Email); email != "" {
		addTo(r.byEmail, email, profile.WeddingID)
	}
	if phone := NormalizePhone(profile.Phone); phone != "" {
		addTo(r.byPhone, phone, profile.WeddingID)
	}
}

func addTo(index map[string]map[string]struct{}, key, weddingID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[weddingID] = struct{}{}
}

// Resolve sets WeddingID on rec when its contact email or phone exactly
// matches a registered profile.
func (r *Registry) Resolve(rec comms.Record) (comms.Record, error) {
	emailMatches := r.byEmail[NormalizeEmail(rec.ContactEmail)]
	phoneMatches := r.byPhone[NormalizePhone(rec.ContactPhone)]

	candidates := make(map[string]struct{}, len(emailMatches)+len(phoneMatches))
	for id := range emailMatches {
		candidates[id] = struct{}{}
	}
	for id := range phoneMatches {
		candidates[id] = struct{}{}
	}

	switch len(candidates) {
	case 0:
		return rec, fmt.Errorf("%w: %s %s", ErrUnattributable, rec.Provider, rec.ExternalID)
	case 1:
		for id := range candidates {
			rec.WeddingID = id
		}
		return rec, nil
	default:
		ids := make([]string, 0, len(candidates))
		for id := range candidates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return rec, fmt.Errorf("%w: %s %s matches weddings %s", ErrAmbiguousIdentity, rec.Provider, rec.ExternalID, strings.Join(ids, ", "))
	}
}

// NormalizeEmail lowercases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

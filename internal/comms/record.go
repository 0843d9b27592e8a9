// Package comms turns provider-specific payloads into communication records.
package comms

import (
	"errors"
	"time"
)

// Provider identifies one external communication channel.
type Provider string

const (
	ProviderChat     Provider = "chat"
	ProviderEmail    Provider = "email"
	ProviderSMS      Provider = "sms"
	ProviderCall     Provider = "call"
	ProviderZoom     Provider = "zoom"
	ProviderContract Provider = "contract"
)

// Providers lists every known provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderChat, ProviderEmail, ProviderSMS, ProviderCall, ProviderZoom, ProviderContract}
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderChat, ProviderEmail, ProviderSMS, ProviderCall, ProviderZoom, ProviderContract:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ErrMalformedPayload marks provider data that cannot become a Record.
var ErrMalformedPayload = errors.New("malformed payload")

// Record is the provider-neutral shape of one message. Contact fields describe
// the client-side party: the sender of an inbound message or the recipient of
// an outbound one. WeddingID stays empty until the record is attributed.
type Record struct {
	ID            string    `json:"id"`
	Provider      Provider  `json:"provider"`
	ExternalID    string    `json:"externalId"`
	WeddingID     string    `json:"weddingId,omitempty"`
	ContactEmail  string    `json:"contactEmail,omitempty"`
	ContactPhone  string    `json:"contactPhone,omitempty"`
	ContactName   string    `json:"contactName,omitempty"`
	Direction     Direction `json:"direction"`
	Body          string    `json:"body"`
	OccurredAt    time.Time `json:"occurredAt"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	// ClientText holds the client's own segments of a transcript whose
	// speakers could be told apart; nil otherwise.
	ClientText *string `json:"clientText,omitempty"`
}

func (r Record) Resolved() bool {
	return r.WeddingID != ""
}

func (r Record) Inbound() bool {
	return r.Direction == DirectionInbound
}

// ClientWords returns what the client wrote or said. Attributed transcripts
// yield the client's segments whatever the call direction; other records
// yield the body of inbound messages only.
func (r Record) ClientWords() string {
	if r.ClientText != nil {
		return *r.ClientText
	}
	if r.Inbound() {
		return r.Body
	}
	return ""
}

package comms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the closed set of provider payload shapes. Only the types in this
// file implement it.
type Payload interface {
	Provider() Provider
	sealed()
}

// TranscriptSegment is one utterance of a call or meeting transcript. Role is
// "client" or "staff" when the provider knows which side spoke.
type TranscriptSegment struct {
	Speaker string  `json:"speaker"`
	Role    string  `json:"role,omitempty"`
	Text    string  `json:"text"`
	Offset  float64 `json:"offsetSeconds,omitempty"`
}

// ChatPayload is one message of the in-app assistant chat. Role is "client"
// for messages typed by the couple and "assistant" or "staff" for replies.
// Content optionally carries a rich-text tree instead of Text.
type ChatPayload struct {
	SessionID   string          `json:"sessionId"`
	MessageID   string          `json:"messageId"`
	ClientEmail string          `json:"clientEmail"`
	ClientName  string          `json:"clientName,omitempty"`
	Role        string          `json:"role"`
	Text        string          `json:"text,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	SentAt      time.Time       `json:"sentAt"`
}

// EmailPayload is a synced mailbox message. Outgoing is set when the venue
// mailbox sent it.
type EmailPayload struct {
	MessageID string    `json:"messageId"`
	ThreadID  string    `json:"threadId,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject,omitempty"`
	Text      string    `json:"text,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Date      time.Time `json:"date"`
	Outgoing  bool      `json:"outgoing,omitempty"`
}

type SMSPayload struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Direction Direction `json:"direction"`
	SentAt    time.Time `json:"sentAt"`
}

type CallPayload struct {
	CallID       string              `json:"callId"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	Direction    Direction           `json:"direction"`
	StartedAt    time.Time           `json:"startedAt"`
	Segments     []TranscriptSegment `json:"segments"`
	RecordingURL string              `json:"recordingUrl,omitempty"`
}

// ZoomPayload is a completed meeting transcript. The participant is the
// client-side attendee.
type ZoomPayload struct {
	MeetingUUID      string              `json:"meetingUuid"`
	Topic            string              `json:"topic,omitempty"`
	ParticipantEmail string              `json:"participantEmail"`
	ParticipantName  string              `json:"participantName,omitempty"`
	StartTime        time.Time           `json:"startTime"`
	Segments         []TranscriptSegment `json:"segments"`
	TranscriptURL    string              `json:"transcriptUrl,omitempty"`
}

// ContractPayload is an uploaded contract after text extraction. Document
// holds a rich-text tree; Text is used when the parser produced plain text.
type ContractPayload struct {
	DocumentID  string          `json:"documentId"`
	FileName    string          `json:"fileName,omitempty"`
	ObjectKey   string          `json:"objectKey,omitempty"`
	ClientEmail string          `json:"clientEmail"`
	UploadedBy  string          `json:"uploadedBy"`
	UploadedAt  time.Time       `json:"uploadedAt"`
	Document    json.RawMessage `json:"document,omitempty"`
	Text        string          `json:"text,omitempty"`
}

func (ChatPayload) Provider() Provider     { return ProviderChat }
func (EmailPayload) Provider() Provider    { return ProviderEmail }
func (SMSPayload) Provider() Provider      { return ProviderSMS }
func (CallPayload) Provider() Provider     { return ProviderCall }
func (ZoomPayload) Provider() Provider     { return ProviderZoom }
func (ContractPayload) Provider() Provider { return ProviderContract }

func (ChatPayload) sealed()     {}
func (EmailPayload) sealed()    {}
func (SMSPayload) sealed()      {}
func (CallPayload) sealed()     {}
func (ZoomPayload) sealed()     {}
func (ContractPayload) sealed() {}

// Decode parses raw JSON into the payload variant for provider.
func Decode(provider Provider, raw []byte) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrMalformedPayload, provider)
	}
	switch provider {
	case ProviderChat:
		return decodeAs[ChatPayload](provider, raw)
	case ProviderEmail:
		return decodeAs[EmailPayload](provider, raw)
	case ProviderSMS:
		return decodeAs[SMSPayload](provider, raw)
	case ProviderCall:
		return decodeAs[CallPayload](provider, raw)
	case ProviderZoom:
		return decodeAs[ZoomPayload](provider, raw)
	case ProviderContract:
		return decodeAs[ContractPayload](provider, raw)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrMalformedPayload, provider)
	}
}

func decodeAs[T Payload](provider Provider, raw []byte) (Payload, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, provider, err)
	}
	return payload, nil
}

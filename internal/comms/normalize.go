package comms

import (
	"fmt"
	"net/mail"
	"strings"
)

// NormalizeRaw decodes and normalizes a raw provider payload.
func NormalizeRaw(provider Provider, raw []byte) (Record, error) {
	payload, err := Decode(provider, raw)
	if err != nil {
		return Record{}, err
	}
	return Normalize(payload)
}

// Normalize converts a decoded payload into a Record. It performs no I/O and
// returns the same Record for the same payload.
func Normalize(payload Payload) (Record, error) {
	var (
		rec Record
		err error
	)
	switch p := payload.(type) {
	case ChatPayload:
		rec, err = normalizeChat(p)
	case EmailPayload:
		rec, err = normalizeEmail(p)
	case SMSPayload:
		rec, err = normalizeSMS(p)
	case CallPayload:
		rec, err = normalizeCall(p)
	case ZoomPayload:
		rec, err = normalizeZoom(p)
	case ContractPayload:
		rec, err = normalizeContract(p)
	default:
		return Record{}, fmt.Errorf("%w: unsupported payload %T", ErrMalformedPayload, payload)
	}
	if err != nil {
		return Record{}, err
	}
	return validate(rec)
}

func normalizeChat(p ChatPayload) (Record, error) {
	var direction Direction
	switch strings.ToLower(strings.TrimSpace(p.Role)) {
	case "client", "user":
		direction = DirectionInbound
	case "assistant", "staff":
		direction = DirectionOutbound
	default:
		return Record{}, malformed(ProviderChat, "unknown role %q", p.Role)
	}

	body := p.Text
	if len(p.Content) > 0 {
		flat, err := FlattenRichText(p.Content)
		if err != nil {
			return Record{}, malformed(ProviderChat, "%v", err)
		}
		body = flat
	}

	return Record{
		Provider:     ProviderChat,
		ExternalID:   strings.TrimSpace(p.MessageID),
		ContactEmail: strings.TrimSpace(p.ClientEmail),
		ContactName:  strings.TrimSpace(p.ClientName),
		Direction:    direction,
		Body:         CollapseWhitespace(body),
		OccurredAt:   p.SentAt.UTC(),
	}, nil
}

func normalizeEmail(p EmailPayload) (Record, error) {
	direction := DirectionInbound
	party := p.From
	if p.Outgoing {
		direction = DirectionOutbound
		party = p.To
	}
	name, address := splitAddress(party)

	text := p.Text
	if strings.TrimSpace(text) == "" {
		text = htmlText(p.HTML)
	}
	body := CollapseWhitespace(text)
	if subject := CollapseWhitespace(p.Subject); subject != "" && body != "" {
		body = subject + " " + body
	}

	return Record{
		Provider:     ProviderEmail,
		ExternalID:   strings.TrimSpace(p.MessageID),
		ContactEmail: address,
		ContactName:  name,
		Direction:    direction,
		Body:         body,
		OccurredAt:   p.Date.UTC(),
	}, nil
}

func normalizeSMS(p SMSPayload) (Record, error) {
	direction, party, err := phoneParty(ProviderSMS, p.Direction, p.From, p.To)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Provider:     ProviderSMS,
		ExternalID:   strings.TrimSpace(p.MessageID),
		ContactPhone: party,
		Direction:    direction,
		Body:         CollapseWhitespace(p.Body),
		OccurredAt:   p.SentAt.UTC(),
	}, nil
}

func normalizeCall(p CallPayload) (Record, error) {
	direction, party, err := phoneParty(ProviderCall, p.Direction, p.From, p.To)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Provider:      ProviderCall,
		ExternalID:    strings.TrimSpace(p.CallID),
		ContactPhone:  party,
		Direction:     direction,
		Body:          flattenTranscript(p.Segments),
		ClientText:    clientSpeech(p.Segments, ""),
		OccurredAt:    p.StartedAt.UTC(),
		AttachmentRef: p.RecordingURL,
	}, nil
}

func normalizeZoom(p ZoomPayload) (Record, error) {
	return Record{
		Provider:      ProviderZoom,
		ExternalID:    strings.TrimSpace(p.MeetingUUID),
		ContactEmail:  strings.TrimSpace(p.ParticipantEmail),
		ContactName:   strings.TrimSpace(p.ParticipantName),
		Direction:     DirectionInbound,
		Body:          flattenTranscript(p.Segments),
		ClientText:    clientSpeech(p.Segments, p.ParticipantName),
		OccurredAt:    p.StartTime.UTC(),
		AttachmentRef: p.TranscriptURL,
	}, nil
}

func normalizeContract(p ContractPayload) (Record, error) {
	body := p.Text
	if len(p.Document) > 0 {
		flat, err := FlattenRichText(p.Document)
		if err != nil {
			return Record{}, malformed(ProviderContract, "%v", err)
		}
		body = flat
	}

	direction := DirectionOutbound
	if strings.EqualFold(strings.TrimSpace(p.UploadedBy), "client") {
		direction = DirectionInbound
	}
	ref := p.ObjectKey
	if ref == "" {
		ref = p.FileName
	}

	return Record{
		Provider:      ProviderContract,
		ExternalID:    strings.TrimSpace(p.DocumentID),
		ContactEmail:  strings.TrimSpace(p.ClientEmail),
		Direction:     direction,
		Body:          CollapseWhitespace(body),
		OccurredAt:    p.UploadedAt.UTC(),
		AttachmentRef: ref,
	}, nil
}

func phoneParty(provider Provider, direction Direction, from, to string) (Direction, string, error) {
	switch direction {
	case DirectionInbound:
		return direction, strings.TrimSpace(from), nil
	case DirectionOutbound:
		return direction, strings.TrimSpace(to), nil
	default:
		return "", "", malformed(provider, "unknown direction %q", direction)
	}
}

func splitAddress(value string) (name, address string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddress(value)
	if err != nil {
		return "", value
	}
	return parsed.Name, parsed.Address
}

func validate(rec Record) (Record, error) {
	switch {
	case rec.ExternalID == "":
		return Record{}, malformed(rec.Provider, "missing message id")
	case rec.OccurredAt.IsZero():
		return Record{}, malformed(rec.Provider, "missing timestamp")
	case rec.ContactEmail == "" && rec.ContactPhone == "":
		return Record{}, malformed(rec.Provider, "missing sender identity")
	case rec.Body == "":
		return Record{}, malformed(rec.Provider, "empty body")
	}
	return rec, nil
}

func malformed(provider Provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, provider, fmt.Sprintf(format, args...))
}

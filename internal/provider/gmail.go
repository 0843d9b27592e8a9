package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/syncer"
)

// MessageSource is the slice of the Gmail API the fetcher needs.
type MessageSource interface {
	ListIDs(ctx context.Context, query, pageToken string) (ids []string, next string, err error)
	Get(ctx context.Context, id string) (*gmail.Message, error)
}

// GmailFetcher syncs the venue mailbox. Positions are the message's
// internalDate in milliseconds, zero padded, followed by the message id.
type GmailFetcher struct {
	source MessageSource
	// Lookback bounds the first sync.
	Lookback time.Duration
	now      func() time.Time
}

func NewGmailFetcher(source MessageSource) *GmailFetcher {
	return &GmailFetcher{source: source, Lookback: 90 * 24 * time.Hour, now: time.Now}
}

func (f *GmailFetcher) Provider() comms.Provider {
	return comms.ProviderEmail
}

func (f *GmailFetcher) Fetch(ctx context.Context, since syncer.Cursor) ([]syncer.Item, error) {
	after := f.now().Add(-f.Lookback)
	if since.Position != "" {
		ms, err := positionMillis(since.Position)
		if err != nil {
			return nil, err
		}
		// Gmail's after: filter has second granularity; the position filter
		// below drops what was already seen.
		after = time.UnixMilli(ms).Add(-time.Second)
	}
	query := fmt.Sprintf("after:%d -in:chats", after.Unix())

	var items []syncer.Item
	pageToken := ""
	for {
		ids, next, err := f.source.ListIDs(ctx, query, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list gmail messages: %w", err)
		}
		for _, id := range ids {
			msg, err := f.source.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("get gmail message %s: %w", id, err)
			}
			position := gmailPosition(msg)
			if since.Position != "" && position <= since.Position {
				continue
			}
			raw, err := json.Marshal(MessageToPayload(msg))
			if err != nil {
				return nil, fmt.Errorf("marshal email payload: %w", err)
			}
			items = append(items, syncer.Item{ExternalID: msg.Id, Position: position, Raw: raw})
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func gmailPosition(msg *gmail.Message) string {
	return fmt.Sprintf("%016d-%s", msg.InternalDate, msg.Id)
}

func positionMillis(position string) (int64, error) {
	digits, _, _ := strings.Cut(position, "-")
	ms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse gmail position %q: %w", position, err)
	}
	return ms, nil
}

// MessageToPayload maps a full-format Gmail message to an email payload.
// Messages carrying the SENT label are outgoing.
func MessageToPayload(msg *gmail.Message) comms.EmailPayload {
	payload := comms.EmailPayload{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Date:      time.UnixMilli(msg.InternalDate).UTC(),
	}
	for _, label := range msg.LabelIds {
		if label == "SENT" {
			payload.Outgoing = true
		}
	}
	if msg.Payload == nil {
		return payload
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			payload.From = header.Value
		case "to":
			payload.To = header.Value
		case "subject":
			payload.Subject = header.Value
		case "date":
			if msg.InternalDate == 0 {
				if parsed, err := mail.ParseDate(header.Value); err == nil {
					payload.Date = parsed.UTC()
				}
			}
		}
	}
	payload.Text, payload.HTML = messageBodies(msg.Payload)
	return payload
}

func messageBodies(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	switch {
	case strings.HasPrefix(part.MimeType, "text/plain"):
		text = decodeBody(part.Body)
	case strings.HasPrefix(part.MimeType, "text/html"):
		html = decodeBody(part.Body)
	}
	for _, child := range part.Parts {
		t, h := messageBodies(child)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func decodeBody(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(body.Data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// GmailAPI adapts *gmail.Service to MessageSource for the authenticated user.
type GmailAPI struct {
	service *gmail.Service
}

func (g GmailAPI) ListIDs(ctx context.Context, query, pageToken string) ([]string, string, error) {
	call := g.service.Users.Messages.List("me").Q(query).MaxResults(500).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (g GmailAPI) Get(ctx context.Context, id string) (*gmail.Message, error) {
	return g.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
}

// NewGmailAPI builds an authenticated Gmail client from a stored OAuth token.
func NewGmailAPI(ctx context.Context, clientID, clientSecret, tokenFile string) (GmailAPI, error) {
	token, err := loadToken(tokenFile)
	if err != nil {
		return GmailAPI{}, err
	}
	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	service, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return GmailAPI{}, fmt.Errorf("create gmail service: %w", err)
	}
	return GmailAPI{service: service}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gmail token: %w", err)
	}
	defer func() { _ = f.Close() }()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode gmail token: %w", err)
	}
	return &token, nil
}

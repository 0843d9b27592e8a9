// Package provider implements the per-provider fetchers the sync orchestrator
// pulls raw payloads from.
package provider

import (
	"context"
	"fmt"
	"strconv"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
)

const inboxPageSize = 500

type InboxStore interface {
	AckInbox(ctx context.Context, provider comms.Provider, upTo int64) error
	ClaimInbox(ctx context.Context, provider comms.Provider, after int64, pendingOnly bool, limit int) ([]store.InboxEntry, error)
}

// InboxFetcher reads webhook deliveries for one provider. Positions are the
// inbox sequence numbers, zero padded so they sort as strings.
//
// Sequence numbers are taken before commit, so a delivery can become visible
// after a higher one was already synced. Pending entries are therefore chosen
// by their synced mark, not by seq > cursor; the cursor only acknowledges what
// the previous run handed out.
type InboxFetcher struct {
	provider comms.Provider
	store    InboxStore
}

func NewInboxFetcher(provider comms.Provider, store InboxStore) *InboxFetcher {
	return &InboxFetcher{provider: provider, store: store}
}

func (f *InboxFetcher) Provider() comms.Provider {
	return f.provider
}

// Fetch returns every pending entry. An empty position (first run or force)
// returns the whole inbox.
func (f *InboxFetcher) Fetch(ctx context.Context, since syncer.Cursor) ([]syncer.Item, error) {
	upTo, err := ParseSeq(since.Position)
	if err != nil {
		return nil, err
	}
	pendingOnly := since.Position != ""
	if pendingOnly {
		if err := f.store.AckInbox(ctx, f.provider, upTo); err != nil {
			return nil, fmt.Errorf("fetch %s inbox: %w", f.provider, err)
		}
	}

	var (
		items []syncer.Item
		after int64
	)
	for {
		entries, err := f.store.ClaimInbox(ctx, f.provider, after, pendingOnly, inboxPageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s inbox: %w", f.provider, err)
		}
		for _, entry := range entries {
			items = append(items, syncer.Item{
				ExternalID: entry.ExternalID,
				Position:   FormatSeq(entry.Seq),
				Raw:        entry.Payload,
			})
			after = entry.Seq
		}
		if len(entries) < inboxPageSize {
			return items, nil
		}
	}
}

func FormatSeq(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// ParseSeq reads an inbox position; empty means the beginning.
func ParseSeq(position string) (int64, error) {
	if position == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(position, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse inbox position %q: %w", position, err)
	}
	return seq, nil
}

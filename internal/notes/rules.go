package notes

import (
	"context"
	"regexp"
	"strings"
)

// RuleExtractor finds planning facts with local sentence patterns. It is the
// fallback when no remote extraction endpoint is configured.
type RuleExtractor struct {
	rules []rule
}

type rule struct {
	category Category
	pattern  *regexp.Regexp
}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{rules: defaultRules()}
}

// Rules are checked in order; the first match decides a sentence's category.
func defaultRules() []rule {
	return []rule{
		{
			category: CategoryAllergy,
			pattern:  regexp.MustCompile(`(?i)\b(allerg(y|ies|ic)|gluten|celiac|nut[- ]free|peanut|shellfish|lactose|dairy[- ]free|vegan|vegetarian|kosher|halal)\b`),
		},
		{
			category: CategoryVendorContact,
			pattern:  regexp.MustCompile(`(?i)\b(caterer|florist|photographer|videographer|dj|band|baker|officiant|planner|vendor)\b.*([\w.+-]+@[\w-]+\.[\w.]+|\+?\d[\d\s().-]{7,}\d)`),
		},
		{
			category: CategoryVendor,
			pattern:  regexp.MustCompile(`(?i)\b(caterer|catering|florist|photographer|videographer|dj|band|baker|bakery|officiant|rentals?|hair|makeup|transportation)\b.*\b(is|are|will be|booked|hired|signed)\b`),
		},
		{
			category: CategoryGuestCount,
			pattern:  regexp.MustCompile(`(?i)(\b\d{2,4}\s+(guests|people|attendees|adults)\b|\bguest count\b|\bheadcount\b)`),
		},
		{
			category: CategoryColors,
			pattern:  regexp.MustCompile(`(?i)\b(colou?rs?|palette)\b`),
		},
		{
			category: CategoryCeremony,
			pattern:  regexp.MustCompile(`(?i)\b(ceremony|vows|processional|recessional|aisle|unity candle)\b`),
		},
		{
			category: CategoryTimeline,
			pattern:  regexp.MustCompile(`(?i)(\b\d{1,2}(:\d{2})?\s?(am|pm)\b|\btimeline\b|\bschedule\b|\bfirst dance\b|\bsend[- ]off\b)`),
		},
		{
			category: CategoryDecor,
			pattern:  regexp.MustCompile(`(?i)\b(centerpieces?|decor|linens?|candles?|arch|flowers|florals|lighting|signage|table runners?)\b`),
		},
	}
}

var sentenceSplit = regexp.MustCompile(`[.!?]+(\s+|$)|\n+`)

func (e *RuleExtractor) Extract(ctx context.Context, text string, taxonomy []Category) ([]Candidate, error) {
	allowed := make(map[Category]bool, len(taxonomy))
	for _, category := range taxonomy {
		allowed[category] = true
	}

	var candidates []Candidate
	for _, sentence := range sentenceSplit.Split(text, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for _, r := range e.rules {
			if !allowed[r.category] {
				continue
			}
			if match := r.pattern.FindString(sentence); match != "" {
				candidates = append(candidates, Candidate{
					Category: r.category,
					Content:  sentence,
					Excerpt:  match,
				})
				break
			}
		}
	}
	return candidates, nil
}

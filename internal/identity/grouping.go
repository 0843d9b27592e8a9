package identity

import (
	"sort"
	"strings"
)

// NameSuggestion is an informational hint that a display name may belong to a
// registered profile.
type NameSuggestion struct {
	Profile Profile `json:"profile"`
	Score   float64 `json:"score"`
}

// SuggestGroup ranks profiles whose names share tokens with name. It feeds the
// "possibly the same person" grouping in staff views and must never be used to
// attribute a communication; Resolve does not consult it.
func SuggestGroup(name string, profiles []Profile) []NameSuggestion {
	query := nameTokens(name)
	if len(query) == 0 {
		return nil
	}

	var suggestions []NameSuggestion
	for _, profile := range profiles {
		tokens := nameTokens(profile.Name)
		if len(tokens) == 0 {
			continue
		}
		shared := 0
		for token := range query {
			if _, ok := tokens[token]; ok {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		union := len(query) + len(tokens) - shared
		suggestions = append(suggestions, NameSuggestion{
			Profile: profile,
			Score:   float64(shared) / float64(union),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions
}

func nameTokens(name string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '.' || r == ',' || r == '-' || r == '&'
	}) {
		tokens[field] = struct{}{}
	}
	return tokens
}

package comms

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RichTextNode is a node of a ProseMirror-style document tree.
type RichTextNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Content []RichTextNode `json:"content,omitempty"`
}

// FlattenRichText joins every text field of the tree with single spaces and
// collapses runs of whitespace.
func FlattenRichText(raw json.RawMessage) (string, error) {
	var root RichTextNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return "", fmt.Errorf("decode rich text: %w", err)
	}
	var parts []string
	collectText(root, &parts)
	return CollapseWhitespace(strings.Join(parts, " ")), nil
}

func collectText(node RichTextNode, parts *[]string) {
	if node.Text != "" {
		*parts = append(*parts, node.Text)
	}
	for _, child := range node.Content {
		collectText(child, parts)
	}
}

// CollapseWhitespace trims s and replaces every whitespace run with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func flattenTranscript(segments []TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		text := CollapseWhitespace(segment.Text)
		if text == "" {
			continue
		}
		if speaker := strings.TrimSpace(segment.Speaker); speaker != "" {
			text = speaker + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// clientSpeech joins the segments spoken by the client. A segment belongs to
// the client when its role says so or, untagged, when its speaker is
// clientName. It returns nil when no segment could be attributed either way.
func clientSpeech(segments []TranscriptSegment, clientName string) *string {
	clientName = strings.TrimSpace(clientName)
	var (
		parts      []string
		attributed bool
	)
	for _, segment := range segments {
		switch strings.ToLower(strings.TrimSpace(segment.Role)) {
		case "client", "customer", "couple":
		case "staff", "coordinator", "host", "agent", "venue":
			attributed = true
			continue
		case "":
			if clientName == "" || !strings.EqualFold(strings.TrimSpace(segment.Speaker), clientName) {
				continue
			}
		default:
			continue
		}
		attributed = true
		if text := CollapseWhitespace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if !attributed {
		return nil
	}
	text := strings.Join(parts, " ")
	return &text
}

// htmlText returns the visible text of an HTML mail body. Script, style and
// head content are skipped; entities are decoded by the tokenizer.
func htmlText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var (
		b    strings.Builder
		skip int
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return CollapseWhitespace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hiddenElement(a) && tt != html.SelfClosingTagToken {
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			}
			if !inlineElement(a) {
				b.WriteByte(' ')
			}
		}
	}
}

func hiddenElement(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Head, atom.Title, atom.Noscript, atom.Template:
		return true
	}
	return false
}

func inlineElement(a atom.Atom) bool {
	switch a {
	case atom.A, atom.Abbr, atom.B, atom.Em, atom.Font, atom.I, atom.Small,
		atom.Span, atom.Strong, atom.Sub, atom.Sup, atom.U:
		return true
	}
	return false
}

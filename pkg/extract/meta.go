package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Meta is the meta.json artifact describing a derivative bundle. Field
// order matters only for human readers; consumers key by name.
type Meta struct {
	Digest       string `json:"digest"`
	OriginalName string `json:"original_name"`
	ObjectKey    string `json:"object_key"`
	Extension    string `json:"extension"`

	ElementCount int    `json:"element_count"`
	TextLength   int    `json:"text_length"`
	WordCount    int    `json:"word_count"`
	PageCount    int    `json:"page_count,omitempty"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`

	Language    string     `json:"language"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	ProcessedAt time.Time  `json:"processed_at"`
	Strategy    Strategy   `json:"processing_strategy"`

	OriginID         string     `json:"origin_id,omitempty"`
	OriginPath       string     `json:"origin_path,omitempty"`
	OriginCreatedAt  *time.Time `json:"origin_created_at,omitempty"`
	OriginModifiedAt *time.Time `json:"origin_modified_at,omitempty"`
	OriginMIME       string     `json:"origin_mime,omitempty"`
}

// Encode renders the artifact with two-space indentation.
func (m *Meta) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode meta: %w", err)
	}
	return data, nil
}

// TitleOf returns the text of the first Title element longer than three
// characters, capped at 200. Empty when the document has no usable title.
func TitleOf(elements []Element) string {
	for _, el := range elements {
		if el.Type != ElementTitle {
			continue
		}
		text := strings.TrimSpace(el.Text)
		if utf8.RuneCountInString(text) > 3 {
			return truncate(text, 200)
		}
	}
	return ""
}

// authorFields are checked in order on each element's metadata.
var authorFields = [...]string{"author", "Author", "creator", "Creator"}

// AuthorOf returns the first author-like metadata value the engine
// reported, capped at 100.
func AuthorOf(elements []Element) string {
	for _, el := range elements {
		for _, field := range authorFields {
			v, ok := el.Metadata[field]
			if !ok || v == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprintf("%v", v)); s != "" {
				return truncate(s, 100)
			}
		}
	}
	return ""
}

// PageCountOf counts page-break markers.
func PageCountOf(elements []Element) int {
	n := 0
	for _, el := range elements {
		if el.Type == ElementPageBreak {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

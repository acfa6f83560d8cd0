package simpledoc

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Match weights, summed over query tokens.
const (
	scoreExact   = 3
	scoreSubstr  = 2
	scoreComment = 1
)

// IndexEntry is the searchable view of a document's current state. It is
// derived from the Document record on every query and never stored.
type IndexEntry struct {
	DocumentID uuid.UUID
	Name       string
	NameWords  []string
	Tags       []string
	Comment    string
	UpdatedAt  time.Time
}

// BuildIndexEntry lowercases and tokenizes the document's searchable fields.
func BuildIndexEntry(doc *Document) IndexEntry {
	name := strings.ToLower(doc.Metadata.Name)
	tags := make([]string, len(doc.Metadata.Tags))
	for i, t := range doc.Metadata.Tags {
		tags[i] = strings.ToLower(t)
	}
	return IndexEntry{
		DocumentID: doc.ID,
		Name:       name,
		NameWords:  splitWords(name),
		Tags:       tags,
		Comment:    strings.ToLower(doc.CurrentComment),
		UpdatedAt:  doc.CurrentVersionAt,
	}
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// QueryTokens splits free text into lowercase, deduplicated tokens.
func QueryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Score reports whether every token matches the entry and the summed weight
// of the best match per token. No tokens match everything with score 0.
func (e IndexEntry) Score(tokens []string) (int, bool) {
	total := 0
	for _, token := range tokens {
		s := e.tokenScore(token)
		if s == 0 {
			return 0, false
		}
		total += s
	}
	return total, true
}

func (e IndexEntry) tokenScore(token string) int {
	if token == e.Name || contains(e.NameWords, token) || contains(e.Tags, token) {
		return scoreExact
	}
	if strings.Contains(e.Name, token) {
		return scoreSubstr
	}
	for _, tag := range e.Tags {
		if strings.Contains(tag, token) {
			return scoreSubstr
		}
	}
	if strings.Contains(e.Comment, token) {
		return scoreComment
	}
	return 0
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

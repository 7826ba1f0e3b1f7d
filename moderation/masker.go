// Package moderation masks blocked terms in message text before it is
// persisted or broadcast.
package moderation

import (
	"bufio"
	"bytes"
	"embed"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

//go:embed blocklist.txt
var blocklistFS embed.FS

// Masker replaces every occurrence of a blocked term with the replacement
// rune, preserving the message length. Matching is case-insensitive; the
// automaton is built once at construction.
type Masker struct {
	machine     *goahocorasick.Machine
	replacement rune
}

func NewMasker(terms []string, replacement rune) (*Masker, error) {
	patterns := make([][]rune, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(strings.ToLower(term))
		if term == "" {
			continue
		}
		patterns = append(patterns, []rune(term))
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Masker{machine: machine, replacement: replacement}, nil
}

// Mask returns the text with all blocked spans overwritten.
func (m *Masker) Mask(text string) string {
	runes := []rune(text)
	lowered := make([]rune, len(runes))
	for i, r := range runes {
		lowered[i] = unicode.ToLower(r)
	}

	terms := m.machine.MultiPatternSearch(lowered, false)
	if len(terms) == 0 {
		return text
	}
	for _, term := range terms {
		for i := term.Pos; i < term.Pos+len(term.Word) && i < len(runes); i++ {
			runes[i] = m.replacement
		}
	}
	return string(runes)
}

// DefaultTerms loads the embedded blocklist. One term per line, '#' starts
// a comment.
func DefaultTerms() ([]string, error) {
	raw, err := blocklistFS.ReadFile("blocklist.txt")
	if err != nil {
		return nil, err
	}

	var terms []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	return terms, scanner.Err()
}

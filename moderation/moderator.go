// Package moderation masks blocked words in message content before it is stored.
// Matching ignores case, punctuation and spacing, and reads common leet substitutions.
package moderation

import (
	"log/slog"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

const DefaultMask = '*'

// Filter is safe for concurrent use once built.
type Filter struct {
	matcher *goahocorasick.Machine
	mask    rune
	log     *slog.Logger
}

// folded is the searchable form of a text with the position of each rune in the original.
type folded struct {
	runes  []rune
	origin []int
}

// NewFilter builds the automaton. Words that fold to nothing are ignored; an empty
// list yields a filter that never masks anything.
func NewFilter(words []string, mask rune, log *slog.Logger) (*Filter, error) {
	var patterns [][]rune
	for _, word := range words {
		if p := fold(word).runes; len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	f := &Filter{mask: mask, log: log}
	if len(patterns) == 0 {
		return f, nil
	}
	f.matcher = new(goahocorasick.Machine)
	if err := f.matcher.Build(patterns); err != nil {
		return nil, err
	}
	log.Debug("Moderation filter built", "words", len(patterns))
	return f, nil
}

// Censor masks every blocked word of text, keeping the surrounding characters in place,
// and returns the words it matched in order.
func (f *Filter) Censor(text string) (string, []string) {
	if f == nil || f.matcher == nil || text == "" {
		return text, nil
	}
	search := fold(text)
	if len(search.runes) == 0 {
		return text, nil
	}
	terms := f.matcher.MultiPatternSearch(search.runes, false)
	if len(terms) == 0 {
		return text, nil
	}

	out := []rune(text)
	matched := make([]string, 0, len(terms))
	for _, term := range terms {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(search.origin) {
			continue
		}
		for i := search.origin[term.Pos]; i <= search.origin[end-1]; i++ {
			out[i] = f.mask
		}
		matched = append(matched, string(term.Word))
	}
	return string(out), matched
}

func fold(input string) folded {
	runes := []rune(input)
	f := folded{runes: make([]rune, 0, len(runes)), origin: make([]int, 0, len(runes))}
	for i, r := range runes {
		r = unleet(r)
		if isNoise(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.origin = append(f.origin, i)
	}
	return f
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

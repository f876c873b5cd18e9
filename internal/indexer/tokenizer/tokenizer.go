// Package tokenizer normalises occupation phrases and queries into terms.
// Text is NFKC-normalised and lower-cased, then split on anything that is not
// a letter, digit or combining mark. Latin-script words have their
// diacritics folded, English stop-words removed and a Snowball English stem
// applied; words in Indic scripts keep their vowel signs and are left
// unstemmed.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
	// Hindi and Marathi particles that carry no occupational meaning.
	"और": {}, "का": {}, "की": {}, "के": {}, "में": {}, "है": {},
	"को": {}, "से": {}, "व": {}, "आणि": {},
}

// Token is one normalised term together with the word it came from.
type Token struct {
	Term     string
	Surface  string
	Position int
}

// Tokenize breaks text into normalised Tokens with stop-words removed.
func Tokenize(text string) []Token {
	text = strings.ToLower(norm.NFKC.String(text))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		term := normalizeWord(word)
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     term,
			Surface:  word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms returns the normalised terms of text in order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

// Normalize returns the canonical form of a phrase: its terms joined by a
// single space. Two phrases match verbatim when their canonical forms are
// equal.
func Normalize(text string) string {
	return strings.Join(Terms(text), " ")
}

// Fold lower-cases text and strips diacritics from Latin script without
// stemming or dropping words. Used for prefix matching while the user is
// still typing.
func Fold(text string) string {
	text = strings.ToLower(norm.NFKC.String(text))
	words := strings.Fields(text)
	for i, w := range words {
		if isLatin(w) {
			words[i] = foldDiacritics(w)
		}
	}
	return strings.Join(words, " ")
}

func normalizeWord(word string) string {
	if !isLatin(word) {
		if _, isStop := stopWords[word]; isStop {
			return ""
		}
		return norm.NFC.String(word)
	}
	word = foldDiacritics(word)
	if utf8.RuneCountInString(word) < 2 {
		return ""
	}
	if _, isStop := stopWords[word]; isStop {
		return ""
	}
	return stem(word)
}

func isLatin(word string) bool {
	for _, r := range word {
		if unicode.IsDigit(r) || unicode.IsMark(r) {
			continue
		}
		if !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

func foldDiacritics(word string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, word)
	if err != nil {
		return word
	}
	return folded
}

func stem(word string) string {
	env := snowballstem.NewEnv(word)
	english.Stem(env)
	return env.Current()
}

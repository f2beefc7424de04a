// Package lexical implements mlservice.TextAnnotator without any external
// NLP dependency: no tokenizer, stemmer or tagger appears anywhere in this
// codebase's retrieved reference set, so annotation falls back to
// suffix-stripping lemmatization, a closed-class/heuristic part-of-speech
// tagger, and capitalization-based entity detection. See DESIGN.md.
package lexical

import (
	"context"
	"strings"
	"unicode"
)

// Annotation is the {tokens, lemmas, pos, entities} shape the spec's
// TextModel.annotate contract names.
type Annotation struct {
	Tokens   []string `json:"tokens"`
	Lemmas   []string `json:"lemmas"`
	POS      []string `json:"pos"`
	Entities []string `json:"entities"`
}

var closedClass = map[string]string{
	"the": "DET", "a": "DET", "an": "DET", "this": "DET", "that": "DET",
	"and": "CCONJ", "or": "CCONJ", "but": "CCONJ",
	"of": "ADP", "in": "ADP", "on": "ADP", "to": "ADP", "for": "ADP", "with": "ADP", "by": "ADP", "at": "ADP", "from": "ADP",
	"is": "AUX", "are": "AUX", "was": "AUX", "were": "AUX", "be": "AUX", "been": "AUX",
	"i": "PRON", "you": "PRON", "he": "PRON", "she": "PRON", "it": "PRON", "we": "PRON", "they": "PRON",
	"not": "PART", "no": "PART",
}

var suffixStrip = []string{"ies", "ied", "ing", "es", "ed", "ly", "s"}

// Annotator is a stateless TextAnnotator; Close is a no-op since there is
// no model to release.
type Annotator struct{}

func New() *Annotator { return &Annotator{} }

func (a *Annotator) Annotate(ctx context.Context, text string) (any, error) {
	tokens := tokenize(text)
	ann := Annotation{
		Tokens:   tokens,
		Lemmas:   make([]string, len(tokens)),
		POS:      make([]string, len(tokens)),
		Entities: nil,
	}
	for i, tok := range tokens {
		ann.Lemmas[i] = lemmatize(tok)
		ann.POS[i] = tagPOS(tok, i)
		if isEntityCandidate(tok, i) {
			ann.Entities = append(ann.Entities, tok)
		}
	}
	return ann, nil
}

func (a *Annotator) Close() error { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// lemmatize strips the longest matching suffix, the rule of thumb this
// codebase uses in place of a real stemmer.
func lemmatize(token string) string {
	lower := strings.ToLower(token)
	for _, suffix := range suffixStrip {
		if len(lower) > len(suffix)+2 && strings.HasSuffix(lower, suffix) {
			return strings.TrimSuffix(lower, suffix)
		}
	}
	return lower
}

// tagPOS looks up a small closed-class table first, then falls back to a
// capitalization/position heuristic for everything else: NUM for digit
// tokens, PROPN for capitalized non-sentence-initial tokens, NOUN otherwise.
func tagPOS(token string, position int) string {
	lower := strings.ToLower(token)
	if pos, ok := closedClass[lower]; ok {
		return pos
	}
	if isAllDigits(token) {
		return "NUM"
	}
	if isCapitalized(token) && position > 0 {
		return "PROPN"
	}
	return "NOUN"
}

// isEntityCandidate flags capitalized tokens that aren't sentence-initial,
// mirroring the heuristic a reader would expect from a suffix-only pipeline:
// it will over- and under-fire, but needs no model.
func isEntityCandidate(token string, position int) bool {
	return isCapitalized(token) && position > 0
}

func isCapitalized(token string) bool {
	if token == "" {
		return false
	}
	r := []rune(token)[0]
	return unicode.IsUpper(r)
}

func isAllDigits(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

package oracle

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"engram/internal/models"
)

// LexicalClassifier is a deterministic conflict classifier built on token
// heuristics: negation polarity, antonym pairs and content-word overlap. It
// needs no network call, which makes it the default fallback when the
// reasoning oracle misbehaves and a cheap second opinion for the
// relationship pass.
type LexicalClassifier struct{}

// NewLexicalClassifier returns the heuristic conflict classifier
func NewLexicalClassifier() *LexicalClassifier {
	return &LexicalClassifier{}
}

var negationTerms = map[string]bool{
	"no": true, "not": true, "never": true, "neither": true, "nor": true,
	"dont": true, "doesnt": true, "didnt": true, "wont": true, "cant": true,
	"isnt": true, "arent": true, "wasnt": true, "werent": true,
	"stopped": true, "quit": true, "anymore": true, "longer": true,
}

// antonymPairs maps a word to its opposites. Both directions are listed so a
// single lookup per token suffices.
var antonymPairs = map[string][]string{
	"love":     {"hate", "dislike"},
	"hate":     {"love", "like", "enjoy"},
	"like":     {"hate", "dislike"},
	"dislike":  {"like", "love", "enjoy"},
	"enjoy":    {"hate", "dislike"},
	"favorite": {"worst"},
	"worst":    {"favorite", "best"},
	"best":     {"worst"},
	"hot":      {"cold"},
	"cold":     {"hot"},
	"always":   {"never"},
	"never":    {"always"},
	"start":    {"stop"},
	"started":  {"stopped"},
	"stop":     {"start"},
	"stopped":  {"started"},
	"open":     {"closed"},
	"closed":   {"open"},
	"early":    {"late"},
	"late":     {"early"},
	"big":      {"small"},
	"small":    {"big"},
	"old":      {"new"},
	"new":      {"old"},
	"more":     {"less"},
	"less":     {"more"},
	"vegetarian": {"meat"},
	"single":     {"married"},
	"married":    {"single", "divorced"},
	"divorced":   {"married"},
	"employed":   {"unemployed"},
	"unemployed": {"employed"},
}

var lexicalStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "my": true, "me": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "it": true, "its": true, "this": true,
	"that": true, "and": true, "or": true, "for": true, "with": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "now": true, "very": true,
	"really": true, "so": true, "but": true, "any": true,
}

// ClassifyConflict judges contradiction from surface features alone. The
// verdict is conservative: it only fires when the two statements share
// subject matter and their polarity visibly flips.
func (c *LexicalClassifier) ClassifyConflict(_ context.Context, a, b string) (*models.ContradictionVerdict, error) {
	tokensA := lexicalTokens(a)
	tokensB := lexicalTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return &models.ContradictionVerdict{Contradicts: false, Confidence: 0, Reason: "empty statement"}, nil
	}

	overlap := contentOverlap(tokensA, tokensB)
	if overlap < 0.25 {
		return &models.ContradictionVerdict{Contradicts: false, Confidence: 0.2, Reason: "statements share too little content"}, nil
	}

	negA := hasNegation(tokensA)
	negB := hasNegation(tokensB)
	polarityFlip := negA != negB
	antonymHit := hasAntonymAcross(tokensA, tokensB)

	if !polarityFlip && !antonymHit {
		return &models.ContradictionVerdict{Contradicts: false, Confidence: 0.3, Reason: "no polarity flip detected"}, nil
	}

	confidence := 0.45 + 0.3*overlap
	reason := "polarity flip over shared subject"
	if antonymHit {
		confidence += 0.1
		reason = "opposing terms over shared subject"
	}
	if confidence > 0.85 {
		confidence = 0.85
	}

	return &models.ContradictionVerdict{
		Contradicts: true,
		Confidence:  confidence,
		Reason:      fmt.Sprintf("%s (overlap %.2f)", reason, overlap),
	}, nil
}

// lexicalTokens lowercases, strips punctuation and splits on whitespace.
// Contractions lose their apostrophe so "don't" matches "dont".
func lexicalTokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// contentOverlap is the Jaccard index over non-stopword tokens
func contentOverlap(a, b []string) float64 {
	setA := make(map[string]bool)
	for _, t := range a {
		if !lexicalStopwords[t] && !negationTerms[t] {
			setA[t] = true
		}
	}
	setB := make(map[string]bool)
	for _, t := range b {
		if !lexicalStopwords[t] && !negationTerms[t] {
			setB[t] = true
		}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func hasNegation(tokens []string) bool {
	for _, t := range tokens {
		if negationTerms[t] {
			return true
		}
	}
	return false
}

func hasAntonymAcross(a, b []string) bool {
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	for _, t := range a {
		for _, opposite := range antonymPairs[t] {
			if setB[opposite] {
				return true
			}
		}
	}
	return false
}

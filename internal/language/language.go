// Package language resolves the reply language for inbound text.
// Classification is keyword and diacritic based; the Classifier interface
// keeps the strategy pluggable so a model-based classifier can replace it
// without touching the dispatcher.
package language

import (
	"strings"

	"github.com/inplacehq/onboardbot/internal/session"
)

// Supported language codes.
const (
	Italian = "it"
	English = "en"
)

// Classifier scores text against the supported languages.
// It returns the best candidate and a confidence margin; a margin of zero
// means the scores tied and the prior language should stand.
type Classifier interface {
	Classify(text, priorLanguage string) (language string, confidence float64)
}

// Detector resolves and persists a session's preferred language.
type Detector struct {
	classifier Classifier
	threshold  float64
}

// NewDetector creates a detector over the given classifier. A zero threshold
// falls back to the default (one clear marker of advantage).
func NewDetector(classifier Classifier, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 1
	}
	return &Detector{classifier: classifier, threshold: threshold}
}

// Resolve picks the reply language for text. When a candidate wins decisively
// and differs from the stored preference, the session is updated and changed
// is true (the caller persists the session). Otherwise the stored preference
// is retained. Resolve never fails: the stored preference is always a valid
// answer.
func (d *Detector) Resolve(s *session.UserSession, text string) (lang string, changed bool) {
	candidate, confidence := d.classifier.Classify(text, s.PreferredLanguage)
	if candidate == "" || confidence < d.threshold {
		return s.PreferredLanguage, false
	}
	if candidate == s.PreferredLanguage {
		return candidate, false
	}
	s.PreferredLanguage = candidate
	return candidate, true
}

// Italian keyword markers, from the production phrase lists.
var italianMarkers = []string{
	"ciao", "grazie", "buongiorno", "buonasera", "buonanotte", "salve",
	"nome", "cognome", "documento", "firma", "codice", "come", "cosa",
	"residenza", "comune", "registrati", "verifica", "italiano",
	"esempio", "posso", "aiuto", "piacere", "scusa", "prego", "certo",
	"perché", "della", "gli",
}

// English keyword markers.
var englishMarkers = []string{
	"hello", "hi", "hey", "thanks", "thank", "good morning", "good evening",
	"good night", "name", "surname", "document", "signature", "code",
	"how", "what", "where", "register", "verify", "english",
	"example", "can", "help", "please", "sorry", "sure", "yes",
}

// italianDiacritics strongly favor Italian when present.
const italianDiacritics = "àèéìòù"

// diacriticWeight is the score bonus for accented characters.
const diacriticWeight = 2

// KeywordClassifier scores text by counting marker words per language,
// with a bonus for Italian diacritics. Single-word markers match whole
// tokens; multi-word markers match as substrings.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the standard it/en keyword classifier.
func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Classify(text, priorLanguage string) (string, float64) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", 0
	}

	tokens := tokenSet(t)
	itScore := score(t, tokens, italianMarkers)
	enScore := score(t, tokens, englishMarkers)

	if strings.ContainsAny(t, italianDiacritics) {
		itScore += diacriticWeight
	}

	switch {
	case itScore > enScore:
		return Italian, float64(itScore - enScore)
	case enScore > itScore:
		return English, float64(enScore - itScore)
	default:
		return "", 0
	}
}

func score(text string, tokens map[string]bool, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(m, " ") {
			if strings.Contains(text, m) {
				n++
			}
		} else if tokens[m] {
			n++
		}
	}
	return n
}

func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func isWordRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
		return true
	}
	// Accented letters are part of words.
	return strings.ContainsRune(italianDiacriticsAll, r)
}

const italianDiacriticsAll = "àèéìòùáíóú"

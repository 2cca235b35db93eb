package reply

import (
	"strings"

	"github.com/inplacehq/onboardbot/internal/language"
)

// Intent buckets for fallback selection when the completion collaborator is
// unavailable.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentThanks   Intent = "thanks"
	IntentGoodbye  Intent = "goodbye"
	IntentOther    Intent = "other"
)

var intentKeywords = map[Intent][]string{
	IntentGreeting: {
		"ciao", "salve", "buongiorno", "buonasera",
		"hello", "hi", "hey", "good morning", "good evening",
	},
	IntentThanks: {
		"grazie", "gentilissimo", "gentile",
		"thanks", "thank you", "thx",
	},
	IntentGoodbye: {
		"arrivederci", "a presto", "buonanotte",
		"bye", "goodbye", "see you", "good night",
	},
}

// classifyIntent buckets text for fallback selection. First match wins in
// greeting/thanks/goodbye order.
func classifyIntent(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, intent := range []Intent{IntentGreeting, IntentThanks, IntentGoodbye} {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(t, kw) {
				return intent
			}
		}
	}
	return IntentOther
}

var fallbackTemplates = map[string]map[Intent]string{
	language.Italian: {
		IntentGreeting: "Ciao! Al momento ho qualche difficoltà tecnica, ma sono qui per aiutarti con l'onboarding. Riprova tra poco, per favore.",
		IntentThanks:   "Prego! Se hai altre domande sull'onboarding, scrivimi pure.",
		IntentGoodbye:  "A presto! Scrivimi quando vuoi continuare con l'onboarding.",
	},
	language.English: {
		IntentGreeting: "Hi! I'm having a technical hiccup right now, but I'm here to help with your onboarding. Please try again in a moment.",
		IntentThanks:   "You're welcome! If you have more onboarding questions, just write me.",
		IntentGoodbye:  "See you soon! Message me whenever you want to continue your onboarding.",
	},
}

var genericApology = map[string]string{
	language.Italian: "Spiacente, si è verificato un errore. Riprova più tardi.",
	language.English: "Sorry, something went wrong. Please try again later.",
}

var handoffMessages = map[string]string{
	language.Italian: "Ti metto in contatto con un operatore. A breve riceverai assistenza.",
	language.English: "I'll connect you with an operator. You'll receive assistance shortly.",
}

// fallbackText returns canned text for the language and intent. The result is
// never empty: unknown intents get a generic language-appropriate apology.
func fallbackText(lang string, intent Intent) string {
	templates, ok := fallbackTemplates[lang]
	if !ok {
		templates = fallbackTemplates[language.Italian]
	}
	if text, ok := templates[intent]; ok {
		return text
	}
	if apology, ok := genericApology[lang]; ok {
		return apology
	}
	return genericApology[language.Italian]
}

// handoffText returns the escalation notice in the session language.
func handoffText(lang string) string {
	if text, ok := handoffMessages[lang]; ok {
		return text
	}
	return handoffMessages[language.Italian]
}

package reply

import (
	"fmt"
	"strings"

	"github.com/inplacehq/onboardbot/internal/language"
	"github.com/inplacehq/onboardbot/internal/providers"
	"github.com/inplacehq/onboardbot/internal/session"
)

// recentTranscriptTurns bounds how much raw history is sent per completion;
// older context arrives through the rolling summary.
const recentTranscriptTurns = 6

const personaItalian = `Sei un assistente per l'onboarding InPlace.it, bilingue (Italiano/English).
Regole:
- Riconosci la lingua del messaggio corrente e rispondi in quella lingua.
- Niente frasi robotiche o ripetitive; varia le formulazioni.
- Risposte brevi (1-6 frasi), specifiche al contesto; non ripetere saluti.
- Ricorda quanto deciso prima e proponi un prossimo passo chiaro.
- Non chiedere le stesse info due volte se già fornite.
- Se l'utente chiede un umano, offri l'escalation. Non inventare dati.`

const personaEnglish = `You are an InPlace.it onboarding assistant, bilingual (English/Italian).
Rules:
- Detect the language of the current message and reply in that language.
- No robotic or repetitive phrasing; vary wording.
- Keep replies short (1-6 sentences), context-specific; don't repeat greetings.
- Remember prior decisions and always propose a clear next step.
- Don't ask for the same info twice if already provided.
- If the user asks for a human, offer escalation. Do not fabricate facts.`

func (e *Engine) buildMessages(s *session.UserSession, text, lang string) []providers.Message {
	persona := personaItalian
	if lang == language.English {
		persona = personaEnglish
	}

	system := persona
	if kb := e.knowledge(); kb != "" {
		system += "\n\nKnowledge base:\n" + kb
	}

	msgs := []providers.Message{{Role: "system", Content: system}}

	if s.Summary != "" {
		msgs = append(msgs, providers.Message{
			Role:    "system",
			Content: "Conversation summary so far:\n" + s.Summary,
		})
	}

	if recent := s.RecentTurns(recentTranscriptTurns); len(recent) > 0 {
		var lines []string
		for _, turn := range recent {
			lines = append(lines, fmt.Sprintf("%s: %s", turn.From, turn.Text))
		}
		msgs = append(msgs, providers.Message{
			Role:    "system",
			Content: "Recent transcript:\n" + strings.Join(lines, "\n"),
		})
	}

	if s.MessageCount <= 1 {
		msgs = append(msgs, providers.Message{Role: "system", Content: "FIRST_CONTACT: true"})
	}

	return append(msgs, providers.Message{Role: "user", Content: text})
}

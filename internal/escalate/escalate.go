// Package escalate decides when a conversation needs human handoff.
// Tier 1 is a free keyword-phrase check on every message; tier 2 is a
// model-based evaluation the reply engine runs on its sampling cadence.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inplacehq/onboardbot/internal/providers"
	"github.com/inplacehq/onboardbot/internal/session"
)

// Explicit human-request phrases. Full phrases only, single words cause too
// many false positives.
var italianPhrases = []string{
	"parlare con un operatore",
	"parlare con una persona",
	"contattare un umano",
	"assistenza umana",
	"voglio un operatore",
	"voglio parlare con",
	"posso parlare con una persona",
	"ho bisogno di parlare con un operatore",
}

var englishPhrases = []string{
	"speak to a human",
	"talk to an operator",
	"contact a person",
	"human assistance",
	"i need a person",
	"real person",
	"talk to a person",
	"speak with an agent",
}

// Verdict is the outcome of a tier-2 evaluation.
type Verdict struct {
	Escalate bool
	Reason   string

	Frustration  int
	HumanRequest int
	Confusion    int
	Repeat       int
}

// Checker evaluates escalation signals.
type Checker struct {
	provider        providers.Completer
	classifierModel string
}

// NewChecker creates a checker. provider may be nil, in which case tier-2
// evaluations always return a negative verdict.
func NewChecker(provider providers.Completer, classifierModel string) *Checker {
	return &Checker{provider: provider, classifierModel: classifierModel}
}

// Immediate reports whether the message is an explicit human request.
// Runs on every message; no external call.
func (c *Checker) Immediate(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range italianPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	for _, phrase := range englishPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

const evaluatePrompt = `You are an escalation analyzer for a support chatbot.

Return JSON with:
- frustration_score (0-10)
- human_request_score (0-10)
- confusion_score (0-10)
- repeat_count (0-10)

Escalate only if scores are high; do not escalate for polite help/thanks.

--- CHAT START ---
%s
--- CHAT END ---`

// Evaluate scores the recent conversation with the classifier model.
// Thresholds: frustration >= 7, human request >= 8, or confusion >= 8
// with repeat >= 3.
func (c *Checker) Evaluate(ctx context.Context, s *session.UserSession, incoming string) (Verdict, error) {
	if c.provider == nil {
		return Verdict{}, nil
	}

	var lines []string
	for _, turn := range s.RecentTurns(5) {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.From, turn.Text))
	}
	lines = append(lines, "user: "+incoming)

	raw, err := c.provider.Complete(ctx, providers.Request{
		Model: c.classifierModel,
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(evaluatePrompt, strings.Join(lines, "\n"))},
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("escalation evaluation: %w", err)
	}

	var scores struct {
		Frustration  int `json:"frustration_score"`
		HumanRequest int `json:"human_request_score"`
		Confusion    int `json:"confusion_score"`
		Repeat       int `json:"repeat_count"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &scores); err != nil {
		return Verdict{}, fmt.Errorf("escalation evaluation: parse scores: %w", err)
	}

	v := Verdict{
		Frustration:  scores.Frustration,
		HumanRequest: scores.HumanRequest,
		Confusion:    scores.Confusion,
		Repeat:       scores.Repeat,
	}
	if v.Frustration >= 7 || v.HumanRequest >= 8 || (v.Confusion >= 8 && v.Repeat >= 3) {
		v.Escalate = true
		v.Reason = fmt.Sprintf("Escalated (F:%d, H:%d, C:%d, R:%d)",
			v.Frustration, v.HumanRequest, v.Confusion, v.Repeat)
	}
	return v, nil
}

// stripCodeFences removes markdown code fences models sometimes wrap JSON in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Package scoring implements the two scoring layers applied to each tutor
// turn: a deterministic heuristic layer over the raw response text, and an
// LLM-as-judge rubric layer invoked through the gateway.
//
// Grounded on the teacher's internal/detectors/judge package (prompt
// construction, rating extraction, conservative-default parsing) and
// internal/detectors/patterns (regex/keyword matching style), adapted from
// a binary vulnerability judge to a three-dimension tutoring rubric.
package scoring

import (
	"strings"

	"github.com/elenchus-labs/tutorbench/pkg/domain"
)

var closedInterrogatives = []string{
	"is", "are", "do", "does", "did", "can", "could", "will", "would", "should", "have", "has", "had",
}

var advicePhrases = []string{
	"should", "try", "recommend", "must", "ought to", "need to",
}

var leadingPhrases = []string{
	"don't you think", "isn't it", "wouldn't it", "obviously", "clearly",
}

// Heuristics computes the deterministic flags for one tutor response.
// These never call the judge model and never fail.
func Heuristics(aiResponse string) domain.Heuristics {
	return domain.Heuristics{
		HasQuestion:   hasQuestion(aiResponse),
		QuestionCount: questionCount(aiResponse),
		OpenEnded:     openEnded(aiResponse),
		HasAdvice:     containsAny(aiResponse, advicePhrases),
		IsLeading:     containsAny(aiResponse, leadingPhrases),
		ApproxTokens:  approxTokens(aiResponse),
	}
}

func hasQuestion(s string) bool {
	return strings.Contains(s, "?")
}

func questionCount(s string) int {
	return strings.Count(s, "?")
}

// openEnded reports whether the response's final sentence is a question
// that does not open with a closed-interrogative auxiliary verb. A
// trailing "?" preceded by "Is that clear?" style phrasing is closed; one
// preceded by "What led you to that conclusion?" is open.
func openEnded(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasSuffix(trimmed, "?") {
		return false
	}

	sentence := lastSentence(trimmed)
	firstWord := strings.ToLower(firstWord(sentence))
	for _, aux := range closedInterrogatives {
		if firstWord == aux {
			return false
		}
	}
	return true
}

func lastSentence(s string) string {
	s = strings.TrimRight(s, "?")
	idx := strings.LastIndexAny(s, ".!?")
	if idx == -1 {
		return s
	}
	return s[idx+1:]
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
	if idx == -1 {
		return s
	}
	return s[:idx]
}

func containsAny(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func approxTokens(s string) int {
	return len(strings.Fields(s))
}

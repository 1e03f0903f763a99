package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const NoClearAnswer = "I've analyzed the context but couldn't generate a clear answer."

var (
	afterCloseTagPattern = regexp.MustCompile(`(?is)</think>\s*(.*)`)
	thinkBlockPattern    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	encodedBlockPattern  = regexp.MustCompile(`(?is)&lt;think&gt;.*?&lt;/think&gt;`)
	leftoverTagPattern   = regexp.MustCompile(`(?i)</?think>|&lt;/?think&gt;`)

	reasoningPhrases = []string{"let me analyze", "i need to", "step by step", "looking at", "think"}
	answerCues       = []string{"the report", "the context", "medical"}
)

const minAnswerLineLen = 10

// StripThinking removes model reasoning markup from raw output. A
// well-formed close tag is trusted first; otherwise the heuristic pass runs.
// Whatever survives has every remaining think block and tag removed.
func StripThinking(raw string) string {
	if answer, ok := ParseAfterCloseTag(raw); ok {
		if answer = StripTags(answer); answer != "" {
			return answer
		}
		return NoClearAnswer
	}
	if cleaned := HeuristicClean(raw); cleaned != "" {
		return cleaned
	}
	return NoClearAnswer
}

// ParseAfterCloseTag returns the trimmed text following the first </think>.
// ok is false when there is no close tag or nothing follows it.
func ParseAfterCloseTag(raw string) (string, bool) {
	m := afterCloseTagPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	answer := strings.TrimSpace(m[1])
	return answer, answer != ""
}

// HeuristicClean drops think blocks, stray tags and lines that read like
// reasoning. Lines are kept from the first one that looks like an answer.
// When no line looks like an answer, every non-reasoning line is kept, and
// only when none is left does the tag-free text come back as is.
func HeuristicClean(raw string) string {
	text := thinkBlockPattern.ReplaceAllString(raw, "")
	text = encodedBlockPattern.ReplaceAllString(text, "")

	var remaining []string
	for _, line := range strings.Split(text, "\n") {
		if leftoverTagPattern.MatchString(line) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		remaining = append(remaining, line)
	}
	cleaned := strings.TrimSpace(strings.Join(remaining, "\n"))

	var answer, plain []string
	started := false
	for _, line := range remaining {
		lower := strings.ToLower(strings.TrimSpace(line))
		if isReasoningLine(lower) {
			continue
		}
		plain = append(plain, line)
		if looksLikeAnswer(lower) {
			started = true
		}
		if started {
			answer = append(answer, line)
		}
	}
	switch {
	case len(answer) > 0:
		return strings.TrimSpace(strings.Join(answer, "\n"))
	case len(plain) > 0:
		return strings.TrimSpace(strings.Join(plain, "\n"))
	default:
		return cleaned
	}
}

func isReasoningLine(lower string) bool {
	if utf8.RuneCountInString(lower) < minAnswerLineLen || strings.HasPrefix(lower, "i ") {
		return true
	}
	for _, p := range reasoningPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func looksLikeAnswer(lower string) bool {
	if utf8.RuneCountInString(lower) > 50 {
		return true
	}
	if strings.Contains(lower, "based on") && strings.Contains(lower, "document") {
		return true
	}
	for _, cue := range answerCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

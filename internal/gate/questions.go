package gate

import (
	"regexp"
	"strings"
)

var (
	questionsBlockRe = regexp.MustCompile(`(?i)\[QUESTIONS\]`)
	blockEndRe       = regexp.MustCompile(`(?i)\[(?:VERDICT|GATE|NOTES)\]`)
	listPrefixRe     = regexp.MustCompile(`^(?:\d+[.)]\s*|[-*]\s*|Q\d*:\s*)`)
	markerLineRe     = regexp.MustCompile(`(?i)^\[(?:VERDICT|GATE|NOTES|QUESTION)`)
	inlineQuestionRe = regexp.MustCompile(`(?i)\[QUESTION:\s*([^\]]+)\]`)
)

// Questions is the result of ExtractQuestions.
type Questions struct {
	Found     bool     `json:"found"`
	Count     int      `json:"count"`
	Questions []string `json:"questions"`
}

// ExtractQuestions collects clarification questions from agent output.
//
// A [QUESTIONS] block runs until the next [VERDICT], [GATE] or [NOTES]
// marker or the end of text. Each block line has list prefixes (1. 1) - *
// Q1:) stripped; marker lines are skipped; a line is kept when it is longer
// than 5 characters and ends in "?", or is longer than 10 characters.
// Inline [QUESTION: ...] markers are appended after block questions.
// Duplicates are dropped case-insensitively, keeping the first occurrence.
func ExtractQuestions(text string) *Questions {
	var found []string

	for _, block := range questionBlocks(text) {
		for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
			cleaned := strings.TrimSpace(listPrefixRe.ReplaceAllString(strings.TrimSpace(line), ""))
			if cleaned == "" || markerLineRe.MatchString(cleaned) {
				continue
			}
			n := len([]rune(cleaned))
			if (n > 5 && strings.HasSuffix(cleaned, "?")) || n > 10 {
				found = append(found, cleaned)
			}
		}
	}

	for _, m := range inlineQuestionRe.FindAllStringSubmatch(text, -1) {
		found = append(found, strings.TrimSpace(m[1]))
	}

	seen := make(map[string]struct{}, len(found))
	unique := make([]string, 0, len(found))
	for _, q := range found {
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, q)
	}

	return &Questions{Found: len(unique) > 0, Count: len(unique), Questions: unique}
}

// questionBlocks returns the body of each [QUESTIONS] block. A later
// [QUESTIONS] marker that appears before a terminator belongs to the
// earlier block's body.
func questionBlocks(text string) []string {
	var blocks []string
	pos := 0
	for pos <= len(text) {
		loc := questionsBlockRe.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[1]
		end := len(text)
		if t := blockEndRe.FindStringIndex(text[start:]); t != nil {
			end = start + t[0]
		}
		blocks = append(blocks, text[start:end])
		if end == pos {
			break
		}
		pos = end
	}
	return blocks
}

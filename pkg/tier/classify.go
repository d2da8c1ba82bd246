package tier

import (
	"strings"
	"unicode"

	"github.com/aidekit/scribe/pkg/page"
)

// Rule names recorded in telemetry.
const (
	RuleQuestionOpener   = "question_opener"
	RuleQuestionMark     = "question_mark"
	RuleAnalysisAsk      = "analysis_ask"
	RuleEmptyPage        = "empty_page"
	RuleStructuralChange = "structural_keyword"
	RuleCommaEnumeration = "comma_enumeration"
	RuleImageAttachment  = "image_attachment"
	RuleFastWeakness     = "fast_weakness"
	RuleDefaultFast      = "default_fast"
)

var questionOpeners = []string{
	"how many ", "how much ", "what ", "what's ", "who ", "when ",
	"do we ", "is there ", "are there ", "which ",
}

var analysisWords = map[string]bool{
	"enough": true, "missing": true, "ready": true, "sufficient": true,
	"compare": true, "comparison": true, "recommend": true,
	"recommendation": true, "analyze": true, "analysis": true,
}

var structuralKeywords = []string{
	"add a section", "create a", "reorganize", "restructure", "set up",
}

// fastWeaknesses are word-level markers for requests the compiler tier is
// known to fumble: positional indexing, spatial reasoning, negation, and
// cross-referencing.
var fastWeaknesses = map[string]bool{
	"first": true, "second": true, "third": true, "fourth": true, "last": true,
	"above": true, "below": true, "beside": true, "between": true,
	"never": true, "nobody": true, "none": true, "except": true,
	"both": true, "respectively": true,
}

// Classify picks the tier for a user message against the current snapshot.
// First matching rule wins; the function is deterministic and side-effect
// free.
//
// Multi-intent messages that open with a statement and only end in a
// question stay on the fast tier: the compiler applies the mutation and
// self-escalates the query half with an escalate signal.
func Classify(message string, snap *page.Snapshot) Decision {
	lower := strings.ToLower(strings.TrimSpace(message))
	first := firstClause(lower)
	singleClause := first == strings.TrimSuffix(lower, "?")

	// Questions and analysis asks go straight to the analyst.
	for _, opener := range questionOpeners {
		if strings.HasPrefix(lower, opener) {
			return Decision{Tier: Analyst, Confidence: 0.9, Rule: RuleQuestionOpener}
		}
	}
	if strings.HasSuffix(lower, "?") && singleClause {
		return Decision{Tier: Analyst, Confidence: 0.85, Rule: RuleQuestionMark}
	}
	if containsAnyWord(first, analysisWords) {
		return Decision{Tier: Analyst, Confidence: 0.75, Rule: RuleAnalysisAsk}
	}

	// Structural work: first turns, explicit restructuring, bulk input.
	if snap == nil || snap.Empty() {
		return Decision{Tier: Structural, Confidence: 0.95, Rule: RuleEmptyPage}
	}
	for _, kw := range structuralKeywords {
		if strings.Contains(lower, kw) {
			return Decision{Tier: Structural, Confidence: 0.85, Rule: RuleStructuralChange}
		}
	}
	if commaItems(lower) >= 3 {
		return Decision{Tier: Structural, Confidence: 0.7, Rule: RuleCommaEnumeration}
	}
	if strings.Contains(lower, "[image]") {
		return Decision{Tier: Structural, Confidence: 0.9, Rule: RuleImageAttachment}
	}
	if containsAnyWord(lower, fastWeaknesses) || strings.Contains(lower, "n't") {
		return Decision{Tier: Structural, Confidence: 0.6, Rule: RuleFastWeakness}
	}

	return Decision{Tier: Fast, Confidence: 0.8, Rule: RuleDefaultFast}
}

// firstClause returns the text before the first clause separator, with any
// trailing question mark stripped.
func firstClause(lower string) string {
	end := len(lower)
	for i, r := range lower {
		if r == ',' || r == '.' || r == ';' {
			end = i
			break
		}
	}
	return strings.TrimSuffix(strings.TrimSpace(lower[:end]), "?")
}

func commaItems(lower string) int {
	items := 0
	for _, part := range strings.Split(lower, ",") {
		if strings.TrimSpace(part) != "" {
			items++
		}
	}
	return items
}

func containsAnyWord(s string, words map[string]bool) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, f := range fields {
		if words[f] {
			return true
		}
	}
	return false
}

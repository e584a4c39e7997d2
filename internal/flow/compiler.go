// Package flow compiles a free-text agent script into an ordered sequence of
// conversational steps with detected data-collection slots, and builds the
// slot-extraction contract handed to the reasoning boundary mid-call.
package flow

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Step is one ordered unit of a compiled conversation script. Steps are
// immutable once compiled; a compiler run replaces an agent's entire step
// sequence atomically.
type Step struct {
	// Index is the step's position, unique and contiguous from 0.
	Index int

	// Text is the literal source text of the step.
	Text string

	// Slots are the data-collection fields detected in this step.
	Slots []Slot
}

// Placeholder syntaxes accepted in scripts, matched in this order so the
// double-brace form is not consumed piecemeal by the single-brace pattern.
var (
	reDoubleBrace = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	reSingleBrace = regexp.MustCompile(`\{\s*([^{}]+?)\s*\}`)
	reBracketed   = regexp.MustCompile(`\[([A-Z][A-Za-z0-9 _-]*)\]`)
)

// phrasePattern maps a natural-language field mention to a canonical field
// name. Phrases are matched tolerantly so common transcription spelling
// variants still hit.
type phrasePattern struct {
	phrase string
	field  string
}

var phrasePatterns = []phrasePattern{
	{"mobile number", "Mobile"},
	{"phone number", "Phone"},
	{"contact number", "Contact"},
	{"whatsapp number", "Whatsapp"},
	{"email address", "Email"},
	{"email", "Email"},
	{"pincode", "Pincode"},
	{"pin code", "Pincode"},
	{"aadhaar number", "Aadhar"},
	{"aadhaar", "Aadhar"},
	{"aadhar", "Aadhar"},
	{"pan card", "PanCard"},
	{"vehicle registration", "VehicleRegistration"},
	{"registration number", "RegistrationNumber"},
	{"date of birth", "DateOfBirth"},
	{"full name", "Name"},
	{"your name", "Name"},
	{"address", "Address"},
	{"amount", "Amount"},
}

// Compile parses an agent's free-text script into an ordered step list.
//
// Each step is scanned first for explicit placeholder syntax, then for
// natural-language field mentions; fields already found by the placeholder
// pass are skipped. Detected names are deduplicated case-insensitively
// across the whole script. A script in which no fields are detected at all
// compiles to an empty step list — callers fall back to [DefaultSlots].
func Compile(script string) []Step {
	segments := splitSteps(script)
	if len(segments) == 0 {
		return nil
	}

	steps := make([]Step, 0, len(segments))
	seen := make(map[string]struct{})
	total := 0

	for i, text := range segments {
		step := Step{Index: i, Text: text}
		for _, display := range scanPlaceholders(text) {
			key := strings.ToLower(canonicalName(display))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			step.Slots = append(step.Slots, newSlot(display, SourcePlaceholder))
		}
		for _, field := range scanPhrases(text) {
			key := strings.ToLower(canonicalName(field))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			step.Slots = append(step.Slots, newSlot(field, SourcePhrase))
		}
		total += len(step.Slots)
		steps = append(steps, step)
	}

	if total == 0 {
		return nil
	}
	return steps
}

// splitSteps breaks the script into ordered step texts: first on line
// breaks, then on sentence-ending punctuation. Blank segments are dropped.
func splitSteps(script string) []string {
	var out []string
	for line := range strings.Lines(script) {
		for _, sentence := range splitSentences(line) {
			sentence = strings.TrimSpace(sentence)
			if sentence != "" {
				out = append(out, sentence)
			}
		}
	}
	return out
}

// splitSentences cuts on '.', '?' and '!' followed by whitespace, keeping
// the terminator with the preceding sentence. Dots inside placeholder
// braces are left alone.
func splitSentences(line string) []string {
	var (
		out   []string
		start int
		depth int
	)
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '{', '[':
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		case '.', '?', '!':
			if depth == 0 && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '\t') {
				out = append(out, line[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(line) {
		out = append(out, line[start:])
	}
	return out
}

// scanPlaceholders extracts field display names from the three accepted
// placeholder forms, in source order. The double-brace pass runs first and
// its matches are blanked out so the single-brace pass cannot re-capture
// their inner braces.
func scanPlaceholders(text string) []string {
	var names []string

	for _, m := range reDoubleBrace.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	stripped := reDoubleBrace.ReplaceAllString(text, " ")

	for _, m := range reSingleBrace.FindAllStringSubmatch(stripped, -1) {
		names = append(names, m[1])
	}
	for _, m := range reBracketed.FindAllStringSubmatch(stripped, -1) {
		names = append(names, m[1])
	}
	return names
}

// scanPhrases finds natural-language field mentions in the step text and
// returns the canonical field names, in phrase-table order. Each word of a
// phrase may differ from the spoken token by one edit when the word is long
// enough, so "adhaar" or "pincod" still match.
func scanPhrases(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var fields []string
	for _, p := range phrasePatterns {
		if phraseMatches(tokens, strings.Fields(p.phrase)) {
			fields = append(fields, p.field)
		}
	}
	return fields
}

// phraseMatches reports whether the phrase words occur consecutively in the
// token stream, using tolerant per-word comparison.
func phraseMatches(tokens, words []string) bool {
	if len(words) == 0 || len(words) > len(tokens) {
		return false
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		ok := true
		for j, w := range words {
			if !wordMatches(tokens[i+j], w) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// wordMatches compares one spoken token against one phrase word: exact for
// short words, one edit of slack for words of five or more characters.
func wordMatches(token, word string) bool {
	if token == word {
		return true
	}
	if len(word) < 5 {
		return false
	}
	return matchr.Levenshtein(token, word) <= 1
}

// tokenize lowercases the text and splits it into alphanumeric tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

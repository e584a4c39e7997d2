package flow

import (
	"fmt"
	"strings"
)

// Field is one entry of an extraction contract: what the reasoning boundary
// should pull out of the user's utterance and how the caller will validate it.
type Field struct {
	Name     string   `json:"name"`
	Type     SlotType `json:"type"`
	Pattern  string   `json:"pattern,omitempty"`
	Required bool     `json:"required"`
}

// Contract is the extraction instruction set for one conversation step. It
// is consumed by the reasoning boundary, which returns structured values;
// validating those values against each field's pattern is the caller's job,
// not the contract's.
type Contract struct {
	Fields []Field  `json:"fields"`
	Rules  []string `json:"rules"`
}

// normalizationRules are the fixed transformations the reasoning boundary
// must apply before a value is matched against a digit-count pattern.
// Spoken digits are routinely transcribed with embedded spaces ("9 8 7 6"),
// so numeric-looking tokens are collapsed before validation.
var normalizationRules = []string{
	"strip all embedded whitespace from numeric-looking tokens before matching digit-count patterns",
	"convert spelled-out digits (zero through nine) to numerals",
	"uppercase alphabetic characters in identifier, PAN, and vehicle-registration values",
	"trim leading and trailing punctuation from every extracted value",
	"return null for a field whose value was not stated, never a guess",
}

// BuildContract assembles the extraction contract for the given step slots.
func BuildContract(slots []Slot) Contract {
	fields := make([]Field, 0, len(slots))
	for _, s := range slots {
		fields = append(fields, Field{
			Name:     s.Name,
			Type:     s.Type,
			Pattern:  s.Pattern,
			Required: s.Required,
		})
	}
	return Contract{Fields: fields, Rules: normalizationRules}
}

// Render formats the contract as the instruction block embedded in the
// reasoning boundary's prompt.
func (c Contract) Render() string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the user's reply:\n")
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "- %s (type: %s", f.Name, f.Type)
		if f.Pattern != "" {
			fmt.Fprintf(&b, ", must match %s", f.Pattern)
		}
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")\n")
	}
	b.WriteString("Normalization rules:\n")
	for _, r := range c.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

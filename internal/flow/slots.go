package flow

import "strings"

// SlotType is the inferred semantic type of a data-collection slot.
type SlotType string

const (
	SlotPhone      SlotType = "phone"
	SlotEmail      SlotType = "email"
	SlotPincode    SlotType = "pincode"
	SlotAadhar     SlotType = "aadhar"
	SlotPAN        SlotType = "pan"
	SlotVehicle    SlotType = "vehicle_registration"
	SlotDate       SlotType = "date"
	SlotNumeric    SlotType = "numeric"
	SlotAmount     SlotType = "amount"
	SlotIdentifier SlotType = "identifier"
	SlotAddress    SlotType = "address"
	SlotName       SlotType = "name"
	SlotText       SlotType = "text"
)

// Source records how a slot was discovered in the agent script.
type Source string

const (
	// SourcePlaceholder marks slots found via explicit placeholder syntax
	// ({name}, {{name}}, [Name]).
	SourcePlaceholder Source = "placeholder"

	// SourcePhrase marks slots found via natural-language field mentions
	// ("please share your mobile number").
	SourcePhrase Source = "phrase"

	// SourceDefault marks slots from the fallback set used when a script
	// yields no detected fields at all.
	SourceDefault Source = "default"
)

// Slot is one named, typed piece of information a conversation step collects.
type Slot struct {
	// Name is the canonical field name: the display name stripped of
	// whitespace and non-alphanumeric characters.
	Name string

	// DisplayName is the field name as written in the script.
	DisplayName string

	// Type is the inferred semantic type.
	Type SlotType

	// Pattern is the validation regexp applied by the caller to extracted
	// values. Empty for free-text types.
	Pattern string

	// Required marks slots the conversation cannot complete without.
	Required bool

	// Source records the detection provenance.
	Source Source
}

// typeRule maps field-name substrings to a slot type and validation pattern.
// Rules are evaluated in order; the first match wins, so a field name that
// matches several rules resolves to the highest-priority one (e.g. a name
// containing both "email" and "number" infers email, not identifier).
type typeRule struct {
	keys    []string
	typ     SlotType
	pattern string
}

var typeRules = []typeRule{
	{[]string{"phone", "mobile", "contact", "whatsapp"}, SlotPhone, `^[6-9]\d{9}$`},
	{[]string{"email", "mail"}, SlotEmail, `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`},
	{[]string{"pincode", "postal", "zip"}, SlotPincode, `^[1-9]\d{5}$`},
	{[]string{"aadhaar", "aadhar"}, SlotAadhar, `^\d{12}$`},
	{[]string{"pancard", "pannumber"}, SlotPAN, `^[A-Z]{5}\d{4}[A-Z]$`},
	{[]string{"vehicle", "registration", "rcnumber"}, SlotVehicle, `^[A-Z]{2}\d{2}[A-Z]{1,2}\d{4}$`},
	{[]string{"date", "dob", "birth"}, SlotDate, `^\d{1,2}[-/]\d{1,2}[-/]\d{2,4}$`},
	{[]string{"otp", "digit", "code"}, SlotNumeric, `^\d+$`},
	{[]string{"amount", "price", "salary", "rupee"}, SlotAmount, `^\d+(\.\d{1,2})?$`},
	{[]string{"number", "account", "id"}, SlotIdentifier, `^[A-Za-z0-9-]+$`},
	{[]string{"address", "city", "locality", "landmark"}, SlotAddress, ``},
	{[]string{"name"}, SlotName, ``},
}

// InferType resolves a field name to its slot type and validation pattern
// using the priority-ordered substring rules. Unmatched names fall back to
// free text. Matching is case-insensitive on the canonical (alphanumeric)
// form of the name.
func InferType(name string) (SlotType, string) {
	key := strings.ToLower(canonicalName(name))
	if key == "pan" {
		// Bare "pan" is a PAN card; the substring rule would otherwise
		// swallow names like "company".
		return SlotPAN, `^[A-Z]{5}\d{4}[A-Z]$`
	}
	if key == "pin" {
		return SlotPincode, `^[1-9]\d{5}$`
	}
	for _, rule := range typeRules {
		for _, k := range rule.keys {
			if strings.Contains(key, k) {
				return rule.typ, rule.pattern
			}
		}
	}
	return SlotText, ""
}

// DefaultSlots returns the fallback slot set used when a script yields zero
// detected fields. All entries are optional.
func DefaultSlots() []Slot {
	return []Slot{
		newSlot("Name", SourceDefault),
		newSlot("Phone", SourceDefault),
		newSlot("Email", SourceDefault),
		newSlot("Pincode", SourceDefault),
	}
}

// newSlot builds a Slot for the given display name, inferring type and
// pattern from the name. Explicit placeholders are treated as required;
// fields found through phrase mentions or the default fallback are not.
func newSlot(display string, src Source) Slot {
	name := canonicalName(display)
	typ, pattern := InferType(name)
	return Slot{
		Name:        name,
		DisplayName: strings.TrimSpace(display),
		Type:        typ,
		Pattern:     pattern,
		Required:    src == SourcePlaceholder,
		Source:      src,
	}
}

// canonicalName strips whitespace and non-alphanumeric characters from a
// captured field name. "Mobile Number!" becomes "MobileNumber".
func canonicalName(display string) string {
	var b strings.Builder
	for _, r := range display {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

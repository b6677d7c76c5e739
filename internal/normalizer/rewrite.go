// =============================================================================
// Consumption Refinery - Cell Rewrite Rules
// =============================================================================
//
// Rewrite rules clean up raw cell text before it is parsed. They run per
// canonical field, in the order configured in the source profile.
//
// ACTION TYPES:
//   - String manipulations (prepend, append, trim, case conversion)
//   - Replacements (literal and regular expression)
//   - Lookup tables (with or without a default)
//   - Defaults for empty cells
//   - Date re-formatting into one of the configured layouts
//
// EXAMPLE (profile YAML):
//
//   rewrite_rules:
//     - field: entity_id
//       actions:
//         - type: remove_leading_zeros
//         - type: prepend_string
//           value: "DE-"
//     - field: unit
//       actions:
//         - type: lookup
//           lookup_table: { "KWH": "kWh", "M³": "m3" }
//
// =============================================================================

package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// RewriteRule is the list of actions applied to one canonical field.
type RewriteRule struct {
	Field   string          `yaml:"field" validate:"required"`
	Actions []RewriteAction `yaml:"actions" validate:"required,min=1,dive"`
}

// RewriteAction defines a single rewrite step.
type RewriteAction struct {
	// Type is the action to apply:
	//   - "prepend_string"       : Add Value to the beginning
	//   - "append_string"        : Add Value to the end
	//   - "trim"                 : Remove leading and trailing whitespace
	//   - "trim_left"            : Remove leading characters in Value (default whitespace)
	//   - "trim_right"           : Remove trailing characters in Value (default whitespace)
	//   - "uppercase"            : Convert to uppercase
	//   - "lowercase"            : Convert to lowercase
	//   - "replace"              : Replace Find with Value
	//   - "regex_replace"        : Replace matches of the Find regex with Value
	//   - "substring"            : Keep runes "start,end" (end exclusive)
	//   - "remove_leading_zeros" : Strip leading zeros, keeping one
	//   - "pad_zeros_to_length"  : Left-pad with zeros to length Value
	//   - "extract_digits"       : Keep only the digits
	//   - "normalize_whitespace" : Collapse whitespace runs to one space
	//   - "format_date"          : Re-format "input_layout|output_layout"
	//   - "lookup"               : Replace from LookupTable, keep unknown values
	//   - "lookup_with_default"  : Replace from LookupTable, else Value
	//   - "if_empty_use_default" : Use Value when the cell is empty
	Type        string            `yaml:"type" validate:"required"`
	Value       string            `yaml:"value"`
	Find        string            `yaml:"find"`
	LookupTable map[string]string `yaml:"lookup_table"`
}

// compiledAction is an action with its regex prepared.
type compiledAction struct {
	RewriteAction
	re *regexp.Regexp
}

// Rewriter applies rewrite rules to mapped cell values.
type Rewriter struct {
	rules map[types.CanonicalField][]compiledAction
}

var knownActions = map[string]bool{
	"prepend_string": true, "append_string": true, "trim": true, "trim_left": true,
	"trim_right": true, "uppercase": true, "lowercase": true, "replace": true,
	"regex_replace": true, "substring": true, "remove_leading_zeros": true,
	"pad_zeros_to_length": true, "extract_digits": true, "normalize_whitespace": true,
	"format_date": true, "lookup": true, "lookup_with_default": true,
	"if_empty_use_default": true,
}

// NewRewriter validates and compiles rewrite rules. Unknown fields, unknown
// action types and bad regular expressions are configuration errors.
func NewRewriter(rules []RewriteRule) (*Rewriter, error) {
	r := &Rewriter{rules: make(map[types.CanonicalField][]compiledAction)}
	for _, rule := range rules {
		field, err := types.ParseCanonicalField(rule.Field)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule: %w", err)
		}
		for _, a := range rule.Actions {
			if !knownActions[a.Type] {
				return nil, fmt.Errorf("rewrite rule for %s: unknown action type %q", field, a.Type)
			}
			ca := compiledAction{RewriteAction: a}
			switch a.Type {
			case "regex_replace":
				ca.re, err = regexp.Compile(a.Find)
				if err != nil {
					return nil, fmt.Errorf("rewrite rule for %s: invalid regex %q: %w", field, a.Find, err)
				}
			case "format_date":
				if len(strings.Split(a.Value, "|")) != 2 {
					return nil, fmt.Errorf("rewrite rule for %s: format_date needs \"input|output\", got %q", field, a.Value)
				}
			}
			r.rules[field] = append(r.rules[field], ca)
		}
	}
	return r, nil
}

// Apply runs the actions configured for field over value.
func (r *Rewriter) Apply(field types.CanonicalField, value string) string {
	if r == nil {
		return value
	}
	for _, a := range r.rules[field] {
		value = a.apply(value)
	}
	return value
}

func (a compiledAction) apply(value string) string {
	switch a.Type {

	// =========================================================================
	// STRING MANIPULATIONS
	// =========================================================================

	case "prepend_string":
		return a.Value + value

	case "append_string":
		return value + a.Value

	case "trim":
		return strings.TrimSpace(value)

	case "trim_left":
		if a.Value != "" {
			return strings.TrimLeft(value, a.Value)
		}
		return strings.TrimLeft(value, " \t\n\r")

	case "trim_right":
		if a.Value != "" {
			return strings.TrimRight(value, a.Value)
		}
		return strings.TrimRight(value, " \t\n\r")

	case "uppercase":
		return strings.ToUpper(value)

	case "lowercase":
		return strings.ToLower(value)

	case "replace":
		if a.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, a.Find, a.Value)

	case "regex_replace":
		return a.re.ReplaceAllString(value, a.Value)

	case "substring":
		parts := strings.Split(a.Value, ",")
		if len(parts) != 2 {
			return value
		}
		runes := []rune(value)
		start, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		end, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		if start >= end {
			return ""
		}
		return string(runes[start:end])

	case "remove_leading_zeros":
		if value == "" {
			return value
		}
		trimmed := strings.TrimLeft(value, "0")
		if trimmed == "" {
			return "0"
		}
		return trimmed

	case "pad_zeros_to_length":
		n, err := strconv.Atoi(a.Value)
		if err != nil || n <= 0 || len(value) >= n {
			return value
		}
		return strings.Repeat("0", n-len(value)) + value

	case "extract_digits":
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, value)

	case "normalize_whitespace":
		return strings.Join(strings.Fields(value), " ")

	// =========================================================================
	// DATE RE-FORMATTING
	// =========================================================================

	case "format_date":
		parts := strings.Split(a.Value, "|")
		t, err := time.Parse(strings.TrimSpace(parts[0]), value)
		if err != nil {
			// Left for the date parser to report.
			return value
		}
		return t.Format(strings.TrimSpace(parts[1]))

	// =========================================================================
	// LOOKUPS AND DEFAULTS
	// =========================================================================

	case "lookup":
		if replacement, ok := a.LookupTable[value]; ok {
			return replacement
		}
		return value

	case "lookup_with_default":
		if replacement, ok := a.LookupTable[value]; ok {
			return replacement
		}
		return a.Value

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return a.Value
		}
		return value
	}

	return value
}

// Package validate implements admission validation as a closed set of
// rule variants. Rules are data plus statically registered functions;
// nothing is ever compiled or evaluated from untrusted text.
package validate

import (
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"leadwire/internal/domain"
)

// RuleKind enumerates the closed set of validation rule variants.
type RuleKind string

const (
	KindRequired RuleKind = "required"
	KindLength   RuleKind = "length"
	KindPattern  RuleKind = "pattern"
	KindEmail    RuleKind = "email"
	// KindCustom references a function registered at startup by name. A
	// rule set naming an unregistered function fails to load.
	KindCustom RuleKind = "custom"
)

// Rule is one validation rule. Which fields matter depends on Kind.
type Rule struct {
	Kind    RuleKind `yaml:"kind"`
	Min     int      `yaml:"min,omitempty"`
	Max     int      `yaml:"max,omitempty"`
	Pattern string   `yaml:"pattern,omitempty"`
	Func    string   `yaml:"func,omitempty"`

	compiled *regexp.Regexp
}

// RuleSet validates one named field.
type RuleSet struct {
	Field string `yaml:"field"`
	Rules []Rule `yaml:"rules"`
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// E164Pattern matches international phone numbers the carriers accept.
	E164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

var (
	customMu    sync.RWMutex
	customFuncs = map[string]func(string) error{}
)

// RegisterCustom registers a named validation function at startup.
// Registration after rule sets are compiled is allowed but a set can only
// reference names registered before Compile ran.
func RegisterCustom(name string, fn func(string) error) {
	customMu.Lock()
	defer customMu.Unlock()
	customFuncs[name] = fn
}

func lookupCustom(name string) (func(string) error, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := customFuncs[name]
	return fn, ok
}

// Compile checks rule invariants and prepares patterns. Unknown kinds and
// unregistered custom functions are load-time errors, not runtime ones.
func (rs *RuleSet) Compile() error {
	if rs.Field == "" {
		return fmt.Errorf("rule set without field name")
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		switch r.Kind {
		case KindRequired, KindEmail:
		case KindLength:
			if r.Max > 0 && r.Min > r.Max {
				return fmt.Errorf("%s: length rule min %d > max %d", rs.Field, r.Min, r.Max)
			}
		case KindPattern:
			compiled, err := regexp.Compile(r.Pattern)
			if err != nil {
				return fmt.Errorf("%s: bad pattern: %w", rs.Field, err)
			}
			r.compiled = compiled
		case KindCustom:
			if _, ok := lookupCustom(r.Func); !ok {
				return fmt.Errorf("%s: unregistered custom validator %q", rs.Field, r.Func)
			}
		default:
			return fmt.Errorf("%s: unknown rule kind %q", rs.Field, r.Kind)
		}
	}
	return nil
}

// Validate runs every rule against the value, returning the first
// violation as a domain.ValidationError.
func (rs *RuleSet) Validate(value string) error {
	for _, r := range rs.Rules {
		if err := r.check(rs.Field, value); err != nil {
			return err
		}
	}
	return nil
}

func (r Rule) check(field, value string) error {
	fail := func(reason string) error {
		return &domain.ValidationError{Field: field, Reason: reason}
	}
	switch r.Kind {
	case KindRequired:
		if value == "" {
			return fail("value is required")
		}
	case KindLength:
		// Length is counted in code points, not bytes, so multibyte
		// content is not penalized.
		n := utf8.RuneCountInString(value)
		if n < r.Min {
			return fail(fmt.Sprintf("length must be at least %d", r.Min))
		}
		if r.Max > 0 && n > r.Max {
			return fail(fmt.Sprintf("length must be at most %d", r.Max))
		}
	case KindPattern:
		compiled := r.compiled
		if compiled == nil {
			var err error
			compiled, err = regexp.Compile(r.Pattern)
			if err != nil {
				return fail("invalid pattern")
			}
		}
		if value != "" && !compiled.MatchString(value) {
			return fail("value does not match required format")
		}
	case KindEmail:
		if value != "" && !emailPattern.MatchString(value) {
			return fail("not a valid email address")
		}
	case KindCustom:
		fn, ok := lookupCustom(r.Func)
		if !ok {
			return fail("unregistered custom validator")
		}
		if err := fn(value); err != nil {
			return fail(err.Error())
		}
	}
	return nil
}

// Built-in rule sets for the admission paths.

// MessageContent bounds outbound SMS content.
func MessageContent() *RuleSet {
	return &RuleSet{
		Field: "content",
		Rules: []Rule{
			{Kind: KindRequired},
			{Kind: KindLength, Min: domain.MinContentLength, Max: domain.MaxContentLength},
		},
	}
}

// Recipient requires an E.164 phone number.
func Recipient() *RuleSet {
	return &RuleSet{
		Field: "recipient",
		Rules: []Rule{
			{Kind: KindRequired},
			{Kind: KindPattern, Pattern: E164Pattern.String()},
		},
	}
}

// AgentID bounds human agent identifiers.
func AgentID() *RuleSet {
	return &RuleSet{
		Field: "agentId",
		Rules: []Rule{
			{Kind: KindRequired},
			{Kind: KindLength, Min: 1, Max: 64},
		},
	}
}

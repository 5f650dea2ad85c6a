// Package unit processes declarative unit templates: placeholder
// substitution into startup/install scripts and rule validation of
// variable values.
package unit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/projecteru2/hatchery/types"
)

// Placeholder returns the template token for a variable name:
// lower-cased, spaces replaced by underscores, wrapped in percent signs.
// "Server Memory" -> "%server_memory%".
func Placeholder(name string) string {
	return "%" + strings.ReplaceAll(strings.ToLower(name), " ", "_") + "%"
}

// Process validates every variable against its rules and substitutes the
// effective values into template. Validation fails closed: any violated rule
// rejects the whole operation. Placeholders with no matching variable are
// left intact; unit definitions with typos degrade to literal text rather
// than blocking the operation.
func Process(template string, vars []types.Variable) (string, error) {
	pairs := make([]string, 0, len(vars)*2)
	for _, v := range vars {
		value := v.Effective()
		if err := Validate(v, value); err != nil {
			return "", err
		}
		pairs = append(pairs, Placeholder(v.Name), value)
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

// Validate checks value against the variable's pipe-delimited rule string.
// "nullable" short-circuits acceptance for an empty value; every other rule
// must pass. Unknown rules are rejected so a typoed rule cannot silently
// disable validation.
func Validate(v types.Variable, value string) error {
	if v.Rules == "" {
		return nil
	}
	rules := strings.Split(v.Rules, "|")

	for _, rule := range rules {
		if rule == "nullable" && value == "" {
			return nil
		}
	}

	for _, rule := range rules {
		if err := checkRule(v.Name, rule, value); err != nil {
			return err
		}
	}
	return nil
}

func checkRule(name, rule, value string) error {
	switch {
	case rule == "nullable":
		return nil
	case rule == "string":
		return nil // every value arrives as a string; placeholder for future typed rules
	case strings.HasPrefix(rule, "max:"):
		n, err := strconv.Atoi(strings.TrimPrefix(rule, "max:"))
		if err != nil {
			return fmt.Errorf("variable %s: malformed rule %q", name, rule)
		}
		if len(value) > n {
			return fmt.Errorf("variable %s: value exceeds max length %d", name, n)
		}
		return nil
	default:
		return fmt.Errorf("variable %s: unknown rule %q", name, rule)
	}
}

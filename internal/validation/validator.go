package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
)

// Validator checks the `validate` struct tags of API requests. Supported
// rules: required, max=N (string length), oneof=a b c, prefix (operator
// prefix syntax), hexcolor.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		ruleName, arg, _ := strings.Cut(rule, "=")

		if ruleName != "required" && field.IsZero() {
			continue
		}

		switch ruleName {
		case "required":
			if field.Kind() == reflect.String && strings.TrimSpace(field.String()) == "" {
				return fmt.Errorf("field is required")
			}
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "max":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad max rule %q", arg)
			}
			if field.Kind() == reflect.String && len(field.String()) > n {
				return fmt.Errorf("maximum length is %d", n)
			}

		case "oneof":
			got := fmt.Sprint(field.Interface())
			ok := false
			for _, want := range strings.Fields(arg) {
				if got == want {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("must be one of %s", arg)
			}

		case "prefix":
			if _, err := operator.ParsePrefix(field.String()); err != nil {
				return err
			}

		case "hexcolor":
			if !isHexColor(field.String()) {
				return fmt.Errorf("invalid color %q", field.String())
			}
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

func isHexColor(s string) bool {
	rest, ok := strings.CutPrefix(s, "#")
	if !ok || (len(rest) != 3 && len(rest) != 6) {
		return false
	}
	_, err := strconv.ParseUint(rest, 16, 32)
	return err == nil
}

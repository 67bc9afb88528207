package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report properties by their JSON names so messages match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

// Validator exposes the shared validator for other packages that validate
// configuration structs with the same tag conventions.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct validates v by its struct tags and reports failures as a
// ValidationError.
func ValidateStruct(op string, v any) error {
	if err := validate.Struct(v); err != nil {
		return validationErrorFrom(op, err)
	}
	return nil
}

// validationErrorFrom converts validator output into a ValidationError keyed
// by the top-level property name.
func validationErrorFrom(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Internal(err, op, "validation failed")
	}

	ve := &ValidationError{Op: op, Fields: map[string]string{}}
	for _, fe := range fieldErrs {
		property := topLevelProperty(fe.Namespace())
		if _, seen := ve.Fields[property]; seen {
			continue
		}
		if fe.Tag() == "required" && property == fe.Field() {
			ve.Fields[property] = fmt.Sprintf("Missing required property %q.", property)
			continue
		}
		ve.Fields[property] = fmt.Sprintf("Invalid value for property %q.", property)
	}
	return ve
}

// topLevelProperty strips the struct name and nested path from a namespace
// such as "ChargeParams.unit_price.currency_code".
func topLevelProperty(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) < 2 {
		return namespace
	}
	return parts[1]
}

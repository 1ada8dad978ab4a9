package common

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator. Field errors are keyed by json name.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs struct tag validation and converts failures into a
// ValidationFailed error. It returns nil when v is valid.
func ValidateStruct(v any) error {
	fields, err := Fields(Validator().Struct(v))
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return ValidationFailed(fields)
	}
	return nil
}

// Fields turns validator errors into field messages. Any other error is
// returned as is.
func Fields(err error) (FieldErrors, error) {
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := FieldErrors{}
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return fields, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return "This field is required."
	case "gt", "gte", "min":
		return "Value is too small."
	case "lte", "max":
		return "Value is too large."
	case "len", "iso3166_1_alpha2":
		return "Enter a valid country code."
	case "email":
		return "Enter a valid email address."
	case "eq":
		return "You must accept the terms."
	case "oneof":
		return "Select a valid choice."
	default:
		return "Invalid value."
	}
}

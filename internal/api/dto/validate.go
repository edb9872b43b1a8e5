package dto

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and reports failing fields by their JSON name.
func Validate(payload interface{}) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return apperrors.NewValidationError("validation failed", details)
}

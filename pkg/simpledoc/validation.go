package simpledoc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// defaultValidator checks the `validate` tags on request structs.
var defaultValidator = validator.New()

// Violation is one field that failed validation.
type Violation struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

func (v Violation) String() string {
	if v.Param != "" {
		return fmt.Sprintf("%s must satisfy %s=%s", v.Field, v.Tag, v.Param)
	}
	return fmt.Sprintf("%s must satisfy %s", v.Field, v.Tag)
}

// ValidationError wraps ErrInvalidRequest with the failing fields.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%v: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// validateRequest runs struct validation and converts the result.
func validateRequest(req any) error {
	err := defaultValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Violations = append(verr.Violations, Violation{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return verr
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

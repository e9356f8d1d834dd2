package identity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/collab-realtime/domain/collab"
)

const notBlankTag = "notblank"

// NewValidator returns a validator that reports fields by their JSON names
// and understands the notblank tag.
func NewValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, notBlankValidation)
	return v
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// Payloads validates inbound message payloads.
type Payloads struct {
	validate *validator.Validate
}

// NewPayloads creates a payload validator.
func NewPayloads(v *validator.Validate) *Payloads {
	if v == nil {
		v = NewValidator()
	}
	return &Payloads{validate: v}
}

// Struct validates s and wraps failures in collab.ErrInvalidMessage.
func (p *Payloads) Struct(s any) error {
	if err := p.validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", collab.ErrInvalidMessage, describe(err))
	}
	return nil
}

// describe renders validation errors as "field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

package common

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

// ParamError is one rejected request parameter.
type ParamError struct {
	Field   string
	Value   any
	Message string
}

func (e ParamError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Field, e.Message, e.Value)
}

// ParamRule checks one request parameter.
type ParamRule func(field string, value any) *ParamError

// Params collects request parameter errors for transport handlers.
type Params struct {
	errors []ParamError
}

func NewParams() *Params {
	return &Params{}
}

// Field applies rules to value and records every failure.
func (p *Params) Field(field string, value any, rules ...ParamRule) *Params {
	for _, rule := range rules {
		if err := rule(field, value); err != nil {
			p.errors = append(p.errors, *err)
		}
	}
	return p
}

func (p *Params) HasErrors() bool {
	return len(p.errors) > 0
}

func (p *Params) Errors() []ParamError {
	return p.errors
}

// Err returns nil or an AppError wrapping ErrInvalidInput.
func (p *Params) Err() error {
	if !p.HasErrors() {
		return nil
	}
	return NewAppError("INVALID_ARGUMENT", p.Message(), ErrInvalidInput)
}

func (p *Params) Message() string {
	messages := make([]string, 0, len(p.errors))
	for _, err := range p.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

func Required(field string, value any) *ParamError {
	switch v := value.(type) {
	case nil:
		return &ParamError{Field: field, Value: value, Message: "is required"}
	case string:
		if strings.TrimSpace(v) == "" {
			return &ParamError{Field: field, Value: value, Message: "is required"}
		}
	}
	return nil
}

func UUID(field string, value any) *ParamError {
	s, ok := value.(string)
	if !ok {
		return &ParamError{Field: field, Value: value, Message: "must be a string"}
	}
	if _, err := uuid.Parse(s); err != nil {
		return &ParamError{Field: field, Value: value, Message: "must be a valid UUID"}
	}
	return nil
}

// PDFName accepts a filename with an allowed document extension.
func PDFName(field string, value any) *ParamError {
	s, _ := value.(string)
	if !constants.AllowedExt(filepath.Ext(s)) {
		return &ParamError{Field: field, Value: value, Message: "must be a .pdf file"}
	}
	return nil
}

// OneOf accepts one of the listed strings, case-insensitively.
func OneOf(allowed ...string) ParamRule {
	return func(field string, value any) *ParamError {
		s, _ := value.(string)
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				return nil
			}
		}
		return &ParamError{Field: field, Value: value, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// IntBetween accepts an int in [min, max].
func IntBetween(min, max int) ParamRule {
	return func(field string, value any) *ParamError {
		n, ok := value.(int)
		if !ok || n < min || n > max {
			return &ParamError{Field: field, Value: value, Message: fmt.Sprintf("must be between %d and %d", min, max)}
		}
		return nil
	}
}

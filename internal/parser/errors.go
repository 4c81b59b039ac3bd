package parser

import (
	"errors"
	"fmt"
)

// ParseErrorReason tells why a drawing produced nothing usable.
type ParseErrorReason string

const (
	NoEntitiesSection      ParseErrorReason = "NoEntitiesSection"
	NoRecognizedPrimitives ParseErrorReason = "NoRecognizedPrimitives"
)

// ParseError is returned when a drawing has no usable entities.
// For NoRecognizedPrimitives the parser still returns a drawing with
// default bounds so callers can show an empty plan.
type ParseError struct {
	Reason  ParseErrorReason
	Skipped int
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case NoEntitiesSection:
		return "dxf: no ENTITIES section found"
	case NoRecognizedPrimitives:
		return fmt.Sprintf("dxf: no recognized primitives (%d entities skipped)", e.Skipped)
	default:
		return "dxf: " + string(e.Reason)
	}
}

// AsParseError unwraps err into a *ParseError.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// LoadError is returned when a rule file cannot be read.
type LoadError struct {
	// FilePath is the rule file that failed to load
	FilePath string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load rule file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load rule file %q: %s", e.FilePath, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ParseError is returned when a rule file is not a valid rule list.
type ParseError struct {
	// FilePath is the rule file that failed to parse
	FilePath string

	// Line and Column locate syntax errors (1-indexed, zero when unknown)
	Line   int
	Column int

	// Message describes the parsing error
	Message string

	// Cause is the underlying decoder error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %q at line %d, column %d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %q: %s", e.FilePath, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// newParseError converts a JSON decoding error into a ParseError, resolving
// the byte offset of syntax and type errors into a line and column.
func newParseError(path string, data []byte, err error) *ParseError {
	pe := &ParseError{FilePath: path, Message: err.Error(), Cause: err}

	var offset int64 = -1
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
		pe.Message = "invalid JSON: " + syntaxErr.Error()
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
		pe.Message = fmt.Sprintf("unexpected %s for %s", typeErr.Value, typeErr.Type)
		if typeErr.Field != "" {
			pe.Message += " in field " + typeErr.Field
		}
	}

	if offset >= 0 && offset <= int64(len(data)) {
		before := data[:offset]
		pe.Line = bytes.Count(before, []byte("\n")) + 1
		pe.Column = int(offset) - bytes.LastIndexByte(before, '\n')
	}

	return pe
}

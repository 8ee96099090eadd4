package transparency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorCategory classifies errors for counting and operator guidance.
type ErrorCategory int

const (
	// ErrorCategoryExternalCall indicates the analyzer call failed (timeout,
	// non-zero exit, transport error).
	ErrorCategoryExternalCall ErrorCategory = iota

	// ErrorCategoryParse indicates analyzer output that held no usable JSON.
	ErrorCategoryParse

	// ErrorCategoryStorage indicates a result store failure.
	ErrorCategoryStorage

	// ErrorCategoryFilesystem indicates a file/directory issue.
	ErrorCategoryFilesystem

	// ErrorCategoryUnknown is the fallback for unclassified errors.
	ErrorCategoryUnknown
)

// AllCategories lists every category in declaration order.
var AllCategories = []ErrorCategory{
	ErrorCategoryExternalCall,
	ErrorCategoryParse,
	ErrorCategoryStorage,
	ErrorCategoryFilesystem,
	ErrorCategoryUnknown,
}

// Prefix returns the display prefix for this error category.
func (c ErrorCategory) Prefix() string {
	prefixes := []string{
		"[ANALYZER]",
		"[PARSE]",
		"[STORE]",
		"[FS]",
		"[ERROR]",
	}
	if int(c) >= 0 && int(c) < len(prefixes) {
		return prefixes[c]
	}
	return "[ERROR]"
}

// String returns the category name.
func (c ErrorCategory) String() string {
	names := []string{
		"external_call",
		"parse",
		"storage",
		"filesystem",
		"unknown",
	}
	if int(c) >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// MarshalText lets categories key JSON maps by name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ClassifiedError wraps an error with the operation and document it concerns.
type ClassifiedError struct {
	Original error
	Category ErrorCategory
	Op       string
	Path     string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString(ce.Op)
	if ce.Path != "" {
		sb.WriteString(" ")
		sb.WriteString(ce.Path)
	}
	if ce.Original != nil {
		if sb.Len() > 0 {
			sb.WriteString(": ")
		}
		sb.WriteString(ce.Original.Error())
	}
	return sb.String()
}

// Unwrap returns the original error for errors.Is/As compatibility.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// Format returns a multi-line message with recovery hints.
func (ce *ClassifiedError) Format() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s\n", ce.Category.Prefix(), ce.Error()))
	if guide := GetRecoveryGuide(ce.Category); len(guide) > 0 {
		sb.WriteString("\nSuggested fixes:\n")
		for _, r := range guide {
			sb.WriteString(fmt.Sprintf("  - %s\n", r))
		}
	}

	return sb.String()
}

// Wrap classifies err under cat. Returns nil when err is nil.
func Wrap(cat ErrorCategory, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Original: err, Category: cat, Op: op, Path: path}
}

// ExternalCall marks an analyzer invocation failure.
func ExternalCall(op, path string, err error) error {
	return Wrap(ErrorCategoryExternalCall, op, path, err)
}

// Parse marks analyzer output that could not be decoded.
func Parse(op, path string, err error) error {
	return Wrap(ErrorCategoryParse, op, path, err)
}

// Storage marks a result store failure.
func Storage(op string, err error) error {
	return Wrap(ErrorCategoryStorage, op, "", err)
}

// Filesystem marks a document read/write failure.
func Filesystem(op, path string, err error) error {
	return Wrap(ErrorCategoryFilesystem, op, path, err)
}

// CategoryOf returns the category of err. Typed errors anywhere in the chain
// win; otherwise well-known sentinel types and message patterns are used.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return ErrorCategoryFilesystem
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrorCategoryParse
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryExternalCall
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "sqlite", "database", "sql:"):
		return ErrorCategoryStorage
	case containsAny(errStr, "json", "unexpected end of", "invalid character", "no object"):
		return ErrorCategoryParse
	case containsAny(errStr, "timeout", "timed out", "exit status", "connection refused", "dial", "unreachable"):
		return ErrorCategoryExternalCall
	case containsAny(errStr, "no such file", "is a directory", "permission denied", "file"):
		return ErrorCategoryFilesystem
	}
	return ErrorCategoryUnknown
}

// ClassifyError returns err as a *ClassifiedError, classifying it with
// CategoryOf when it is not one already.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{Original: err, Category: CategoryOf(err)}
}

// containsAny returns true if s contains any of the patterns.
func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// GetRecoveryGuide returns remediation steps for an error category.
func GetRecoveryGuide(category ErrorCategory) []string {
	guides := map[ErrorCategory][]string{
		ErrorCategoryExternalCall: {
			"Check the analyzer is installed and the model is pulled (ollama list)",
			"Increase analyzer.timeout in the config",
			"Lower processing.rate_limit_per_minute if the analyzer is overloaded",
		},
		ErrorCategoryParse: {
			"Try a larger or instruction-tuned model",
			"Run with --verbose to log raw analyzer output",
		},
		ErrorCategoryStorage: {
			"Check the database path is writable",
			"Make sure only one service instance uses the database",
		},
		ErrorCategoryFilesystem: {
			"Verify the vault path exists",
			"Check file permissions",
		},
	}

	if steps, ok := guides[category]; ok {
		return steps
	}
	return []string{"Check logs for more details"}
}

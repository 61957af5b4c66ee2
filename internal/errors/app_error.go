// Package errors defines the error taxonomy shared by the synthesis bridge, the
// completion client and the login flow. Callers usually import it as apperrors.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind categorizes an AppError.
type Kind string

const (
	// KindHTTP is a non-success status or transport failure from an endpoint whose success is mandatory.
	KindHTTP Kind = "http"
	// KindFabrication means generated text does not parse or cannot be reduced to one statement.
	KindFabrication Kind = "fabrication"
	// KindResolution means a name is still undefined after it was already guessed as an import.
	KindResolution Kind = "resolution"
	// KindImport means a guessed name is not an importable module.
	KindImport Kind = "import"
	// KindInvalidName rejects capability names that are not identifier-shaped.
	KindInvalidName Kind = "invalid_name"
)

// Sentinels for errors.Is matching against an AppError's Kind.
var (
	ErrHTTP        = &AppError{Kind: KindHTTP}
	ErrFabrication = &AppError{Kind: KindFabrication}
	ErrResolution  = &AppError{Kind: KindResolution}
	ErrImport      = &AppError{Kind: KindImport}
	ErrInvalidName = &AppError{Kind: KindInvalidName}
)

// AppError represents a structured application error.
type AppError struct {
	// Kind is the taxonomy bucket.
	Kind Kind `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Name is the capability or symbol the error refers to (optional).
	Name string `json:"name,omitempty"`
	// Status is the upstream HTTP status for KindHTTP errors.
	Status int `json:"status,omitempty"`
	// Body is the raw upstream response body for KindHTTP errors.
	Body string `json:"body,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Kind == KindHTTP && e.Status != 0 {
		msg = fmt.Sprintf("%s\nStatus: %d\nResponse:\n\n%s", msg, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError of the same Kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatusCode maps the error kind onto the status the serve mode responds with.
func (e *AppError) HTTPStatusCode() int {
	switch e.Kind {
	case KindInvalidName:
		return http.StatusBadRequest
	case KindResolution, KindImport:
		return http.StatusUnprocessableEntity
	case KindFabrication, KindHTTP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a new AppError.
func New(kind Kind, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// HTTP builds a KindHTTP error carrying the upstream status and raw body.
func HTTP(message string, status int, body []byte) *AppError {
	return &AppError{
		Kind:    KindHTTP,
		Message: message,
		Status:  status,
		Body:    string(body),
	}
}

// Fabrication builds a KindFabrication error for the named capability.
func Fabrication(name, message string, err error) *AppError {
	return &AppError{Kind: KindFabrication, Name: name, Message: message, Err: err}
}

// Resolution builds a KindResolution error for an undefined symbol.
func Resolution(symbol string) *AppError {
	return &AppError{
		Kind:    KindResolution,
		Name:    symbol,
		Message: fmt.Sprintf("generated source references a missing value '%s'", symbol),
	}
}

// Import builds a KindImport error for a symbol that is not an importable module.
func Import(symbol string, err error) *AppError {
	return &AppError{
		Kind:    KindImport,
		Name:    symbol,
		Message: fmt.Sprintf("generated source references a missing value '%s' that is also not a module", symbol),
		Err:     err,
	}
}

// InvalidName builds a KindInvalidName error.
func InvalidName(name string) *AppError {
	return &AppError{
		Kind:    KindInvalidName,
		Name:    name,
		Message: fmt.Sprintf("%q is not a valid capability name", name),
	}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

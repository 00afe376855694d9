package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies a cart failure so callers can branch without string matching.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindProductNotFound Kind = "product_not_found"
	KindRemoteService   Kind = "remote_service"
	KindSerialization   Kind = "serialization"
	KindInternal        Kind = "internal"
)

// statusByKind maps each kind to the HTTP status the boundary answers with.
var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindProductNotFound: http.StatusNotFound,
	KindRemoteService:   http.StatusServiceUnavailable,
	KindSerialization:   http.StatusInternalServerError,
	KindInternal:        http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error of the given kind
func New(kind Kind, message string, err error) *Error {
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation reports a caller-correctable input or state problem.
func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

// ProductNotFound reports a product the catalog does not know about.
func ProductNotFound(productID int64) *Error {
	return New(KindProductNotFound, fmt.Sprintf("Product not found: %d", productID), nil)
}

// RemoteService reports an unavailable or misbehaving upstream dependency.
func RemoteService(message string, err error) *Error {
	return New(KindRemoteService, message, err)
}

// Serialization reports a cached payload that cannot be decoded.
func Serialization(message string, err error) *Error {
	return New(KindSerialization, message, err)
}

// KindOf returns the kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool      { return err != nil && KindOf(err) == KindValidation }
func IsProductNotFound(err error) bool { return err != nil && KindOf(err) == KindProductNotFound }
func IsRemoteService(err error) bool   { return err != nil && KindOf(err) == KindRemoteService }
func IsSerialization(err error) bool   { return err != nil && KindOf(err) == KindSerialization }

// From converts any error into an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return New(KindInternal, "Internal server error", err)
}

// HandleError writes err to a plain http.ResponseWriter
func HandleError(w http.ResponseWriter, err error) {
	appErr := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	_, _ = w.Write([]byte(appErr.JSON()))
}

// ErrorMiddleware renders the last error attached to the gin context.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := From(c.Errors.Last().Err)
		c.AbortWithStatusJSON(appErr.Code, appErr)
	}
}

package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotImplemented    ErrCode = "NotImplemented"
	ErrCodeNotFound          ErrCode = "NotFound"
	ErrCodeServiceFailure    ErrCode = "ServiceFailure"
	ErrCodeBadRequest        ErrCode = "BadRequest"
	ErrCodeDependencyFailure ErrCode = "DependencyFailure"
	ErrCodeExisted           ErrCode = "Existed"
	ErrCodeUnauthorized      ErrCode = "Unauthorized"
	ErrCodeForbidden         ErrCode = "Forbidden"
)

type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the full cause chain associated with the error
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	depth := 1
	err := errors.Unwrap(e)
	for err != nil {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		depth++
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer appSpecificErr(msg) over appSpecificErr(msg, cause) since the latter's method signature has less
// readability - user needs to look up docs to know the 2nd param is for cause, while the first one can use
// WithCause() to be explicit
func NewServiceFailure(m string) *Err {
	return &Err{Code: ErrCodeServiceFailure, msg: m}
}

func NewNotFound(m string) *Err {
	return &Err{Code: ErrCodeNotFound, msg: m}
}

func NewBadInput(m string) *Err {
	return &Err{Code: ErrCodeBadRequest, msg: m}
}

func NewNotImplemented() *Err {
	return &Err{Code: ErrCodeNotImplemented, msg: "Not implemented"}
}

func NewExisted(m string) *Err {
	return &Err{Code: ErrCodeExisted, msg: m}
}

func NewUnauthorized(m string) *Err {
	return &Err{Code: ErrCodeUnauthorized, msg: m}
}

func NewForbidden(m string) *Err {
	return &Err{Code: ErrCodeForbidden, msg: m}
}

// NewUnavailable flags a dependency which cannot be reached at the moment, e.g., the persistent
// store being offline. The store selector reacts to this code; callers see it as a ServiceFailure.
func NewUnavailable(m string) *Err {
	return &Err{Code: ErrCodeDependencyFailure, msg: m}
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeExisted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

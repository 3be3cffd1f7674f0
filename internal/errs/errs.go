// Package errs provides structured, coded errors for the scheduling engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a class of failure independent of its message text.
type Code string

const (
	CodeTaskNotFound        Code = "TASK_NOT_FOUND"
	CodeTaskInvalidState    Code = "TASK_INVALID_STATE"
	CodeWorkingCopyNotFound Code = "WORKING_COPY_NOT_FOUND"
	CodeWorkingCopyBusy     Code = "WORKING_COPY_BUSY"
	CodePlanGroupNotFound   Code = "PLAN_GROUP_NOT_FOUND"
	CodePlanGroupInvalid    Code = "PLAN_GROUP_INVALID_STATE"
	CodeConfigInvalid       Code = "CONFIG_INVALID"
	CodeStore               Code = "STORE_ERROR"
)

// Category groups codes for coarse-grained handling by callers (e.g. a
// future transport layer mapping to HTTP statuses).
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryConflict
	CategoryBadRequest
	CategoryInternal
)

var codeCategories = map[Code]Category{
	CodeTaskNotFound:        CategoryNotFound,
	CodeTaskInvalidState:    CategoryConflict,
	CodeWorkingCopyNotFound: CategoryNotFound,
	CodeWorkingCopyBusy:     CategoryConflict,
	CodePlanGroupNotFound:   CategoryNotFound,
	CodePlanGroupInvalid:    CategoryConflict,
	CodeConfigInvalid:       CategoryBadRequest,
	CodeStore:               CategoryInternal,
}

// Error is the structured error type returned by this module's components.
type Error struct {
	Code  Code
	What  string
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code, so callers
// can do errors.Is(err, &errs.Error{Code: errs.CodeTaskNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Category returns the category for this error's code.
func (e *Error) Category() Category {
	if c, ok := codeCategories[e.Code]; ok {
		return c
	}
	return CategoryUnknown
}

// New builds an *Error with the given code and message.
func New(code Code, what string) *Error {
	return &Error{Code: code, What: what}
}

// Wrap builds an *Error with the given code, message and cause.
func Wrap(code Code, what string, cause error) *Error {
	return &Error{Code: code, What: what, Cause: cause}
}

// TaskNotFound returns a coded error for an unknown task id.
func TaskNotFound(id int64) *Error {
	return New(CodeTaskNotFound, fmt.Sprintf("task %d not found", id))
}

// InvalidTransition returns a coded error for an illegal status transition.
func InvalidTransition(entity string, id int64, from, to string) *Error {
	return New(CodeTaskInvalidState,
		fmt.Sprintf("%s %d: cannot transition from %q to %q", entity, id, from, to))
}

// HasCode reports whether err (or anything it wraps) is an *Error with code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

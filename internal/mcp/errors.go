// Package mcp exposes the indexing engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/index"
)

// Tool error codes. The negative range below -32000 is reserved for
// server-defined errors by JSON-RPC.
const (
	ErrCodeRunNotFound        = -32001
	ErrCodeInvalidState       = -32002
	ErrCodeBackendUnavailable = -32003
	ErrCodeSchemaMismatch     = -32004
	ErrCodeTimeout            = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a tool failure with a JSON-RPC style code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts an engine error into an MCPError. It returns nil for
// a nil error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	switch {
	case errors.Is(err, index.ErrRunNotFound):
		return &MCPError{Code: ErrCodeRunNotFound, Message: err.Error() + ". Start a run with index_start."}
	case errors.Is(err, index.ErrInvalidTransition):
		return &MCPError{Code: ErrCodeInvalidState, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var sm *cierrors.SchemaMismatchError
	if errors.As(err, &sm) {
		return &MCPError{Code: ErrCodeSchemaMismatch, Message: sm.Error()}
	}
	if cierrors.IsUnavailable(err) {
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: err.Error()}
	}

	message := err.Error()
	var ce *cierrors.CodedError
	if errors.As(err, &ce) {
		message = ce.Message
		if ce.Suggestion != "" {
			message += ". " + ce.Suggestion
		}
	}
	switch cierrors.GetCategory(err) {
	case cierrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case cierrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

// toolError maps err for a handler return, keeping a nil error nil.
func toolError(err error) error {
	if err == nil {
		return nil
	}
	return MapError(err)
}

package sim

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes simulation errors.
type ErrorCode string

const (
	// ErrCodeInvalidPhysicalTime indicates a physical clock produced an
	// unusable reading at startup. Fatal: no node is started.
	ErrCodeInvalidPhysicalTime ErrorCode = "INVALID_PHYSICAL_TIME"

	// ErrCodeNodeTimeout indicates a node did not finish its script before
	// the run deadline. Other nodes are unaffected.
	ErrCodeNodeTimeout ErrorCode = "NODE_TIMEOUT"

	// ErrCodeBusDelivery indicates an envelope could not be handed to the
	// bus, either dropped after backpressure retries or refused outright.
	ErrCodeBusDelivery ErrorCode = "BUS_DELIVERY_FAILURE"

	// ErrCodeInvalidConfig indicates the configuration failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeNodeFailure indicates a node stopped for any other reason.
	ErrCodeNodeFailure ErrorCode = "NODE_FAILURE"
)

// Error is a simulation error with a stable code for reporting.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// NodeID identifies the affected node, if any.
	NodeID string `json:"node_id,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsTimeoutError reports whether err is a node timeout.
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeNodeTimeout)
}

// IsDeliveryError reports whether err is a bus delivery failure.
func IsDeliveryError(err error) bool {
	return hasCode(err, ErrCodeBusDelivery)
}

// IsPhysicalTimeError reports whether err is an invalid physical reading.
func IsPhysicalTimeError(err error) bool {
	return hasCode(err, ErrCodeInvalidPhysicalTime)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeInvalidConfig)
}

func newConfigError(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf(format, args...),
	}
}

func newPhysicalTimeError(nodeID string, err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidPhysicalTime,
		Message: "physical clock cannot seed the node",
		NodeID:  nodeID,
		Err:     err,
	}
}

package model

import "fmt"

// WarningCode classifies non-fatal conditions raised during a computation.
type WarningCode string

const (
	// WarnEmptyInput means a point or origin set was empty; the result is
	// empty but valid.
	WarnEmptyInput WarningCode = "empty_input"
	// WarnUnreachableGeometry means every snap candidate was beyond the
	// allowed distance; nothing was inserted.
	WarnUnreachableGeometry WarningCode = "unreachable_geometry"
)

// Warning is a non-fatal condition attached to a result. Warnings degrade
// the output instead of aborting it.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Code) + ": " + w.Message
}

// Warningf builds a Warning with a formatted message.
func Warningf(code WarningCode, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}

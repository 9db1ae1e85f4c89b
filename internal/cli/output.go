package cli

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the user-visible failure shape. Every printed error carries a
// stable code, a message, and optionally a next step.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Exit       int    `json:"-"`
}

func (e *Error) Error() string { return e.Message }

// NewError builds a general failure (exit 1).
func NewError(code, message, suggestion string) *Error {
	return &Error{Code: code, Message: message, Suggestion: suggestion, Exit: ExitGeneral}
}

// WithExit overrides the exit code.
func (e *Error) WithExit(code int) *Error {
	e.Exit = code
	return e
}

// asCLIError normalizes any command error into the printable shape.
func asCLIError(err error) *Error {
	var cliErr *Error
	if errors.As(err, &cliErr) {
		return cliErr
	}
	return &Error{Code: "error", Message: err.Error(), Exit: ExitGeneral}
}

// print renders a result value: JSON in --json mode, the fallback text
// otherwise. Quiet mode suppresses the text form only.
func (a *App) print(v interface{}, text string) {
	if a.jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(a.errOut, "encoding output: %v\n", err)
			return
		}
		fmt.Fprintln(a.out, string(data))
		return
	}
	if a.quiet {
		return
	}
	fmt.Fprintln(a.out, text)
}

// printResult renders a command's primary artifact as JSON. Quiet mode
// never suppresses it; the artifact is the whole point of the command.
func (a *App) printResult(v interface{}) {
	data, err := jsonIndent(v)
	if err != nil {
		fmt.Fprintf(a.errOut, "encoding output: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, data)
}

// note prints informational text in human mode only.
func (a *App) note(format string, args ...interface{}) {
	if a.jsonOut || a.quiet {
		return
	}
	fmt.Fprintf(a.out, format+"\n", args...)
}

func jsonIndent(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *App) printError(e *Error) {
	if e.Exit == ExitInterrupt {
		return
	}
	if a.jsonOut {
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintln(a.errOut, string(data))
		return
	}
	fmt.Fprintf(a.errOut, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Suggestion != "" {
		fmt.Fprintf(a.errOut, "  %s\n", e.Suggestion)
	}
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/tanda"
)

// Process exit codes. ExitFailure covers operations the engine or the
// ledger refused and failed scenarios; ExitCommandError covers bad
// arguments, configuration and backend setup.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain,
// ExitSuccess for nil and ExitFailure otherwise.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// OutputFormatter writes command results as text or as a JSON CLIResponse.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	// ErrWriter receives VerboseLog lines. Nil means Writer.
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every --format json result.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse. Code is a tanda.Code,
// NOT_FOUND or ERROR.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data as an ok response, or prints it with %v.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Render writes data as an ok response, or lets text print it.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.isJSON() {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error writes an error response. In text mode details only show with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns the ExitError the
// command should return. details is printed alongside, e.g. the partial
// result of a failed deposit.
func (f *OutputFormatter) Fail(err error, details any) error {
	code, exit := classify(err)
	msg := strings.TrimPrefix(err.Error(), code+": ")
	if perr := f.Error(code, msg, details); perr != nil {
		return WrapExitError(ExitCommandError, "write output", perr)
	}
	return WrapExitError(exit, strings.ToLower(code), err)
}

// VerboseLog writes one diagnostic line when Verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// classify maps an engine error to its response code and exit code.
func classify(err error) (string, int) {
	var te *tanda.Error
	switch {
	case errors.As(err, &te):
		if te.Code == tanda.CodeValidation {
			return string(te.Code), ExitCommandError
		}
		return string(te.Code), ExitFailure
	case errors.Is(err, retry.ErrRecordNotFound):
		return string(tanda.CodeNotFound), ExitFailure
	default:
		return "ERROR", ExitFailure
	}
}

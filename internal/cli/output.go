package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/runner"
)

// Exit codes for CLI commands. Everything above ExitUsage follows the
// error taxonomy, see runner.ExitCodeFor.
const (
	ExitSuccess        = runner.ExitPass
	ExitUsage          = 1 // Bad flags or arguments
	ExitContract       = runner.ExitContract
	ExitHashMismatch   = runner.ExitHashMismatch
	ExitReplayMismatch = runner.ExitReplayMismatch
	ExitInternal       = runner.ExitInternal
	ExitMissingDataRef = runner.ExitMissingDataRef
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Process exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitUsage if the error is not an ExitError; cobra reports flag
// and argument problems that way.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload, or the partial report on failure
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string            `json:"code"`              // reason code, e.g. HASH_MISMATCH
	Kind    string            `json:"kind,omitempty"`    // error family
	Message string            `json:"message"`           // human-readable message
	Path    string            `json:"path,omitempty"`    // failing file or field
	Details map[string]string `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details map[string]string) error {
	return f.emitError(nil, &CLIError{Code: code, Message: message, Details: details})
}

// Fail reports err, together with whatever partial data the command
// produced, and returns the ExitError the command should return. The exit
// code follows the error taxonomy.
func (f *OutputFormatter) Fail(data any, message string, err error) error {
	ce := &CLIError{Code: faults.CodeOf(err), Message: fmt.Sprintf("%s: %v", message, err)}
	if fe, ok := faults.As(err); ok {
		ce.Kind = string(fe.Kind)
		ce.Path = fe.Path
		ce.Details = fe.Details
	}
	_ = f.emitError(data, ce)
	return WrapExitError(runner.ExitCodeFor(err), message, err)
}

func (f *OutputFormatter) emitError(data any, ce *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error:  ce,
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ce.Code, ce.Message)
	if f.Verbose && len(ce.Details) > 0 {
		fmt.Fprintf(f.Writer, "Details: %v\n", ce.Details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// canonicalData embeds a canonical object in a JSON response without
// re-encoding it, so key order and decimal strings survive.
func canonicalData(obj canonical.Object) json.RawMessage {
	return json.RawMessage(canonical.MustMarshal(obj))
}

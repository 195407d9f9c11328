package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/tanda"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"id": "T1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("TRANSIENT", "deposit failed", map[string]int{"attempt": 1})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TRANSIENT", resp.Error.Code)
	assert.Equal(t, "deposit failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Error("CONFLICT", "tanda is not active", "details"))
	assert.Equal(t, "Error [CONFLICT]: tanda is not active\n", buf.String())

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("CONFLICT", "tanda is not active", "details"))
	assert.Contains(t, buf.String(), "Details: details")
}

func TestOutputFormatter_Render(t *testing.T) {
	text := func(w io.Writer) { fmt.Fprintln(w, "human") }

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, formatter.Render([]int{1}, text))
	assert.Equal(t, "human\n", buf.String())

	buf.Reset()
	formatter.Format = "json"
	require.NoError(t, formatter.Render([]int{1}, text))
	assert.JSONEq(t, `{"status":"ok","data":[1]}`, buf.String())
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "shown 2\n", errOut.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		exitCode int
	}{
		{
			name:     "validation is a command error",
			err:      tanda.NewValidationError("amount must be positive"),
			code:     "VALIDATION",
			exitCode: ExitCommandError,
		},
		{
			name:     "transient",
			err:      fmt.Errorf("deposit: %w", tanda.NewTransientError("ledger unreachable", errors.New("dial tcp"))),
			code:     "TRANSIENT",
			exitCode: ExitFailure,
		},
		{
			name:     "missing record",
			err:      fmt.Errorf("T1/GME/1: %w", retry.ErrRecordNotFound),
			code:     "NOT_FOUND",
			exitCode: ExitFailure,
		},
		{
			name:     "unclassified",
			err:      errors.New("boom"),
			code:     "ERROR",
			exitCode: ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail(tt.err, nil)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_FailTrimsCodePrefix(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	_ = formatter.Fail(&tanda.Error{Code: tanda.CodeConflict, Message: "tanda is not active"}, nil)
	assert.Equal(t, "Error [CONFLICT]: tanda is not active\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad flag"))))
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "load config: missing", WrapExitError(ExitCommandError, "load config", errors.New("missing")).Error())
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}

package cli

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/tanda"
)

func TestTandas_Empty(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "tandas")
	require.NoError(t, err)
	assert.Equal(t, "No tandas.\n", out)
}

func TestCreate_JSON(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "create", "--name", "Barrio", "--amount", "10", "--members", "3", "--format", "json")
	require.NoError(t, err)

	var tn tanda.Tanda
	resp := decode(t, out, &tn)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "T1", tn.ID)
	assert.Equal(t, "GME", tn.Creator)
	assert.Equal(t, 3, tn.MaxParticipants)
	assert.True(t, decimal.NewFromInt(10).Equal(tn.Amount))

	out, err = env.run(t, "tandas")
	require.NoError(t, err)
	assert.Contains(t, out, "Barrio")
}

func TestCreate_BadInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "create", "--name", "Barrio", "--amount", "ten")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run(t, "create", "--name", "Barrio", "--amount=-5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, tanda.IsValidation(err))
}

func TestCreate_OfflineThenSync(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.SetOffline(errors.New("network unreachable"))

	out, err := env.run(t, "create", "--name", "Vecinos", "--amount", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "kept locally until the next sync")

	out, err = env.run(t, "sync")
	require.Error(t, err)
	assert.True(t, tanda.IsTransient(err))
	assert.Contains(t, out, "Error [TRANSIENT]")

	env.ledger.SetOffline(nil)
	out, err = env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "as T1")

	tn, err := env.ledger.GetTanda(t.Context(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "Vecinos", tn.Name)
}

func TestDeposit_FailureIsRetried(t *testing.T) {
	env := newTestEnv(t)
	tn := env.startTanda(t)

	out, err := env.run(t, "deposit", tn.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, tanda.IsTransient(err))
	assert.Contains(t, out, "Error [TRANSIENT]")

	out, err = env.run(t, "retries", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pending_retry")
	assert.Contains(t, out, "attempt 1/7")

	env.ledger.Wallet("GME").Fund(decimal.NewFromInt(10))
	out, err = env.run(t, "retries", "force", tn.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, "T1/GME/1: deposit confirmed\n", out)

	got, err := env.ledger.GetTanda(t.Context(), tn.ID)
	require.NoError(t, err)
	p, _, ok := got.Participant("GME")
	require.True(t, ok)
	assert.True(t, p.HasDeposited)
}

func TestDeposit_Confirmed(t *testing.T) {
	env := newTestEnv(t)
	tn := env.startTanda(t)
	env.ledger.Wallet("GME").Fund(decimal.NewFromInt(10))

	out, err := env.run(t, "deposit", tn.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "T1: deposit confirmed")

	out, err = env.run(t, "retries", "list")
	require.NoError(t, err)
	assert.Equal(t, "No failed deposits.\n", out)
}

func TestDeposit_NotActive(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "create", "--name", "Barrio", "--amount", "10")
	require.NoError(t, err)

	_, err = env.run(t, "deposit", "T1")
	require.Error(t, err)
	assert.True(t, tanda.IsConflict(err))
}

func TestAdvance_DryRunSendsNothing(t *testing.T) {
	env := newTestEnv(t)
	tn := env.startTanda(t)

	out, err := env.run(t, "advance", tn.ID, "--dry-run", "--format", "json")
	require.NoError(t, err)

	var p cycle.AdvancePreview
	decode(t, out, &p)
	assert.Equal(t, cycle.NoAction, p.Decision)

	out, err = env.run(t, "advance", tn.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1: no_action, nothing sent to the ledger\n", out)

	got, err := env.ledger.GetTanda(t.Context(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentCycle)
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t)
	tn := env.startTanda(t)

	out, err := env.run(t, "schedule", tn.ID, "--format", "json")
	require.NoError(t, err)

	var data struct {
		Schedule []cycle.PaymentScheduleItem `json:"schedule"`
	}
	decode(t, out, &data)
	assert.Len(t, data.Schedule, 2)

	out, err = env.run(t, "schedule", tn.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "BENEFICIARY")
	assert.Contains(t, out, "Cycle 1:")
}

func TestRetries_BadArguments(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "retries", "cancel", "T1", "one")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := env.run(t, "retries", "cancel", "T1", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

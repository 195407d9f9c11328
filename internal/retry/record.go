package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tandasync/internal/tanda"
)

const keyPrefix = "deposit/"

var (
	// ErrRecordNotFound is returned when no record exists for a key.
	ErrRecordNotFound = errors.New("retry: record not found")

	// ErrStatusMismatch is wrapped in CONFLICT errors when a record is not in
	// the status an operation requires.
	ErrStatusMismatch = errors.New("retry: status mismatch")

	// ErrAbandoned is returned by a RetryStrategy when the deposit is no
	// longer owed. The record is cancelled and the attempt is not counted.
	ErrAbandoned = errors.New("retry: deposit no longer owed")
)

// Status is the lifecycle state of a failed deposit record.
type Status string

const (
	StatusPendingRetry    Status = "pending_retry"
	StatusRetrying        Status = "retrying"
	StatusResolved        Status = "resolved"
	StatusFailedPermanent Status = "failed_permanent"
	StatusUserExpelled    Status = "user_expelled"
)

// Active reports whether the scheduler may still act on the record.
func (s Status) Active() bool {
	return s == StatusPendingRetry || s == StatusRetrying
}

// Terminal reports whether no automatic retry will happen any more.
// failed_permanent is terminal but still waits for expulsion to finish.
func (s Status) Terminal() bool {
	return !s.Active()
}

// Sweepable reports whether the cleanup sweep may delete the record.
func (s Status) Sweepable() bool {
	return s == StatusResolved || s == StatusUserExpelled
}

// Key identifies the deposit a record tracks.
type Key struct {
	TandaID string `json:"tandaId"`
	Wallet  string `json:"wallet"`
	Cycle   int    `json:"cycle"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.TandaID, k.Wallet, k.Cycle)
}

// Validate rejects keys that cannot be stored unambiguously.
func (k Key) Validate() error {
	if k.TandaID == "" || k.Wallet == "" {
		return tanda.NewValidationError("deposit key needs tanda id and wallet")
	}
	if strings.Contains(k.TandaID, "/") || strings.Contains(k.Wallet, "/") {
		return tanda.NewValidationError("deposit key must not contain '/'")
	}
	if k.Cycle < 0 {
		return tanda.NewValidationError("deposit cycle must not be negative")
	}
	return nil
}

func (k Key) storageKey() string {
	return fmt.Sprintf("%s%s/%s/%06d", keyPrefix, k.TandaID, k.Wallet, k.Cycle)
}

func pairPrefix(tandaID, wallet string) string {
	if wallet == "" {
		return keyPrefix + tandaID + "/"
	}
	return keyPrefix + tandaID + "/" + wallet + "/"
}

// Record is a failed deposit being retried.
type Record struct {
	Key
	FirstFailedAt time.Time `json:"firstFailedAt"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
	AttemptCount  int       `json:"attemptCount"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Status        Status    `json:"status"`
	NextRetryAt   time.Time `json:"nextRetryAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func conflict(rec Record, format string, args ...any) error {
	return &tanda.Error{
		Code:    tanda.CodeConflict,
		Message: fmt.Sprintf(format, args...),
		TandaID: rec.TandaID,
		Wallet:  rec.Wallet,
		Err:     ErrStatusMismatch,
	}
}

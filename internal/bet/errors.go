package bet

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input caught before any I/O.
	ErrValidation = errors.New("invalid bet")
	// ErrWalletConnection marks a missing wallet or a refused session.
	ErrWalletConnection = errors.New("wallet connection failed")
	// ErrLedger matches every *LedgerError.
	ErrLedger = errors.New("ledger transaction failed")
	// ErrOracle marks a failure to fetch the game result.
	ErrOracle = errors.New("game result unavailable")
	// ErrProofService marks a failure to obtain a proof attestation.
	ErrProofService = errors.New("proof service unavailable")
	// ErrIneligibleClaim marks a claim whose win gate did not pass.
	ErrIneligibleClaim = errors.New("claim not eligible")
	// ErrAttestationMismatch marks a proof verdict that contradicts the game result.
	ErrAttestationMismatch = errors.New("proof attestation disagrees with game result")
	// ErrNotFound marks a missing bet record.
	ErrNotFound = errors.New("bet not found")
)

// Validationf builds an ErrValidation with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LedgerKind classifies a ledger rejection.
type LedgerKind string

const (
	KindUserRejected   LedgerKind = "user-rejected"
	KindInvalidProof   LedgerKind = "invalid-proof"
	KindAlreadyClaimed LedgerKind = "already-claimed"
	KindNoBet          LedgerKind = "no-bet-found"
	KindReverted       LedgerKind = "reverted"
	KindUnavailable    LedgerKind = "unavailable"
	// KindUnconfirmed is a submitted transaction whose receipt never arrived.
	KindUnconfirmed    LedgerKind = "unconfirmed"
)

// LedgerError is a transaction rejected, reverted, or never submitted.
type LedgerError struct {
	Kind   LedgerKind
	Op     string
	TxHash string
	Err    error
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("ledger %s: %s", e.Op, e.Kind)
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLedger) match any ledger error.
func (e *LedgerError) Is(target error) bool { return target == ErrLedger }

// Retryable is true only when nothing reached the chain.
func (e *LedgerError) Retryable() bool { return e.Kind == KindUnavailable }

// LedgerKindOf extracts the ledger kind from err.
func LedgerKindOf(err error) (LedgerKind, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// IsRetryable reports whether the failed operation may be re-invoked as is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return errors.Is(err, ErrOracle) || errors.Is(err, ErrProofService)
}

// UserMessage maps err to the text shown to a player.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if kind, ok := LedgerKindOf(err); ok {
		switch kind {
		case KindUserRejected:
			return "Transaction was rejected in your wallet. Please try again."
		case KindInvalidProof:
			return "Verification failed. The proof could not be validated."
		case KindAlreadyClaimed:
			return "This reward has already been claimed."
		case KindNoBet:
			return "No bet was found for this account. Please place a bet first."
		case KindUnavailable:
			return "Could not reach the blockchain network. Please try again."
		case KindUnconfirmed:
			return "The transaction was sent but is not confirmed yet. Check it on a block explorer before trying again."
		default:
			return "The transaction was reverted by the contract."
		}
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "Please check your bet details: " + err.Error()
	case errors.Is(err, ErrWalletConnection):
		return "Failed to connect wallet. Please make sure your wallet is configured and unlocked."
	case errors.Is(err, ErrAttestationMismatch):
		return "The proof result does not match the game result. The claim has been blocked."
	case errors.Is(err, ErrIneligibleClaim):
		return "Cannot claim reward for a challenge that was not completed successfully."
	case errors.Is(err, ErrOracle):
		return "Failed to fetch war results. Please try again later."
	case errors.Is(err, ErrProofService):
		return "Failed to generate the result proof. Please try again later."
	case errors.Is(err, ErrNotFound):
		return "No matching bet was found."
	}
	return "Something went wrong. Please try again."
}

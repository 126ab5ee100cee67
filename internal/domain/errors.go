package domain

import (
	"errors"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// Infrastructure errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidInput      = errors.New("invalid input")
)

// Ledger rejections. Each one aborts the attempted operation with no state
// change.
var (
	ErrAlreadyInitialized  = errors.New("protocol already initialized")
	ErrNotInitialized      = errors.New("protocol not initialized")
	ErrInvalidFee          = errors.New("invalid fee")
	ErrInvalidOutcomeCount = errors.New("invalid outcome count")
	ErrInvalidQuestion     = errors.New("invalid question")
	ErrInvalidEndTime      = errors.New("invalid end time")
	ErrMarketEnded         = errors.New("market ended")
	ErrMarketResolved      = errors.New("market resolved")
	ErrMarketCancelled     = errors.New("market cancelled")
	ErrMarketNotEnded      = errors.New("market not ended")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrZeroAmount          = errors.New("zero amount")
	ErrMarketNotResolved   = errors.New("market not resolved")
	ErrNotWinner           = errors.New("position did not win")
	ErrAlreadyClaimed      = errors.New("position already claimed")
	ErrNoWinningStakes     = errors.New("no winning stakes")
	ErrRefundNotAllowed    = errors.New("refund not allowed")
	ErrConservation        = errors.New("escrow conservation violated")

	ErrArithmeticOverflow  = amount.ErrOverflow
	ErrArithmeticUnderflow = amount.ErrUnderflow
)

// errorCodes maps every ledger rejection to its stable, client-facing name.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidFee, "InvalidFee"},
	{ErrInvalidOutcomeCount, "InvalidOutcomeCount"},
	{ErrInvalidQuestion, "InvalidQuestion"},
	{ErrInvalidEndTime, "InvalidEndTime"},
	{ErrMarketEnded, "MarketEnded"},
	{ErrMarketResolved, "MarketResolved"},
	{ErrMarketCancelled, "MarketCancelled"},
	{ErrMarketNotEnded, "MarketNotEnded"},
	{ErrAlreadyResolved, "AlreadyResolved"},
	{ErrInvalidOutcome, "InvalidOutcome"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrZeroAmount, "ZeroAmount"},
	{ErrMarketNotResolved, "MarketNotResolved"},
	{ErrNotWinner, "NotWinner"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrNoWinningStakes, "NoWinningStakes"},
	{ErrRefundNotAllowed, "RefundNotAllowed"},
	{ErrConservation, "ConservationViolated"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrArithmeticUnderflow, "ArithmeticUnderflow"},
	{amount.ErrDivideByZero, "ArithmeticOverflow"},
	{amount.ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrNotFound, "NotFound"},
	{ErrLockHeld, "Busy"},
	{ErrRateLimited, "RateLimited"},
	{ErrInvalidInput, "InvalidInput"},
}

// ErrorCode returns the stable name of the first known error in err's chain,
// or "Internal" when none matches.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}

// Package ledger implements the validated state transitions of the wager
// protocol. Every function takes explicit record references, checks the
// caller and the record state, and either applies the whole change or
// returns an error leaving the records untouched. Persistence and fund
// movement are the caller's concern.
package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// ProtocolParams are the inputs of InitializeProtocol.
type ProtocolParams struct {
	Fees         domain.FeeSchedule
	FeeRecipient common.Address
	DevRecipient common.Address
}

// InitializeProtocol creates the singleton with the caller as authority.
// current is the existing record, nil when none exists.
func InitializeProtocol(current *domain.Protocol, caller common.Address, params ProtocolParams, ceiling uint16, now time.Time) (domain.Protocol, error) {
	if current != nil {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: %w", domain.ErrAlreadyInitialized)
	}
	if err := params.Fees.Validate(ceiling); err != nil {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: %w", err)
	}
	if caller == (common.Address{}) {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: empty authority: %w", domain.ErrUnauthorized)
	}
	if params.FeeRecipient == (common.Address{}) {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: empty fee recipient: %w", domain.ErrInvalidInput)
	}
	return domain.Protocol{
		Address:      crypto.ProtocolAddress(),
		Authority:    caller,
		Fees:         params.Fees,
		FeeRecipient: params.FeeRecipient,
		DevRecipient: params.DevRecipient,
		MarketCount:  0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// FeeUpdate changes the fee schedule and, optionally, the recipients.
type FeeUpdate struct {
	Fees         domain.FeeSchedule
	FeeRecipient *common.Address
	DevRecipient *common.Address
}

// UpdateFees applies u to p. Only the authority may change fees. Markets keep
// the schedule captured at their creation, so the change only reaches markets
// created afterwards.
func UpdateFees(p *domain.Protocol, caller common.Address, u FeeUpdate, ceiling uint16, now time.Time) error {
	if caller != p.Authority {
		return fmt.Errorf("ledger: update fees: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if err := u.Fees.Validate(ceiling); err != nil {
		return fmt.Errorf("ledger: update fees: %w", err)
	}
	if u.FeeRecipient != nil && *u.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("ledger: update fees: empty fee recipient: %w", domain.ErrInvalidInput)
	}

	p.Fees = u.Fees
	if u.FeeRecipient != nil {
		p.FeeRecipient = *u.FeeRecipient
	}
	if u.DevRecipient != nil {
		p.DevRecipient = *u.DevRecipient
	}
	p.UpdatedAt = now
	return nil
}

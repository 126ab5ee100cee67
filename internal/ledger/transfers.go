package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/settlement"
)

// Deposit credits owner with amt of mint from outside custody. Only the
// protocol authority may fund accounts.
func Deposit(p domain.Protocol, caller, owner, mint common.Address, amt amount.Amount, now time.Time) (domain.Transfer, error) {
	switch {
	case caller != p.Authority:
		return domain.Transfer{}, fmt.Errorf("ledger: deposit: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	case amt.IsZero():
		return domain.Transfer{}, fmt.Errorf("ledger: deposit: %w", domain.ErrZeroAmount)
	case owner == (common.Address{}) || mint == (common.Address{}):
		return domain.Transfer{}, fmt.Errorf("ledger: deposit: empty owner or mint: %w", domain.ErrInvalidInput)
	}
	return domain.Transfer{
		Kind:   domain.TransferDeposit,
		To:     owner,
		Mint:   mint,
		Amount: amt,
		At:     now,
	}, nil
}

// StakeTransfer moves a new position's stake from the bettor into escrow.
func StakeTransfer(m domain.Market, pos domain.Position) domain.Transfer {
	id := m.ID
	return domain.Transfer{
		Kind:     domain.TransferStake,
		From:     pos.User,
		To:       m.Address,
		Mint:     m.TokenMint,
		Amount:   pos.Amount,
		MarketID: &id,
		At:       pos.PlacedAt,
	}
}

// PayoutTransfers splits an outgoing escrow amount: net goes to the position
// owner as kind, fee is divided between the protocol's recipients. Zero
// legs are omitted.
func PayoutTransfers(p domain.Protocol, m domain.Market, pos domain.Position, kind domain.TransferKind, net, fee amount.Amount) []domain.Transfer {
	id := m.ID
	at := m.UpdatedAt
	leg := func(k domain.TransferKind, to common.Address, a amount.Amount) domain.Transfer {
		return domain.Transfer{Kind: k, From: m.Address, To: to, Mint: m.TokenMint, Amount: a, MarketID: &id, At: at}
	}

	var out []domain.Transfer
	if !net.IsZero() {
		out = append(out, leg(kind, pos.User, net))
	}
	hasDev := p.DevRecipient != (common.Address{})
	split := settlement.SplitFee(fee, hasDev)
	if !split.Recipient.IsZero() {
		out = append(out, leg(domain.TransferFee, p.FeeRecipient, split.Recipient))
	}
	if !split.Dev.IsZero() {
		out = append(out, leg(domain.TransferFee, p.DevRecipient, split.Dev))
	}
	return out
}

// Package settlement holds the pure payout arithmetic of the ledger: what a
// winning position receives, what a refund returns, how fees are split, and
// whether a market's escrow still covers what it owes.
package settlement

import (
	"fmt"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// Claim is the breakdown of one winning position's redemption.
type Claim struct {
	Stake       amount.Amount `json:"stake"`
	Gross       amount.Amount `json:"gross"`
	AmmFee      amount.Amount `json:"amm_fee"`
	ProtocolFee amount.Amount `json:"protocol_fee"`
	Fee         amount.Amount `json:"fee"`
	Net         amount.Amount `json:"net"`
	// EscrowDebit is what leaves the market's escrow: Net plus Fee.
	EscrowDebit amount.Amount `json:"escrow_debit"`
}

// ComputeClaim returns the payout of a winning stake. The stake's share of the
// losing pool is floor(losingPool*stake/winningPool); the AMM fee comes off
// that share first and the protocol fee is taken from what remains.
func ComputeClaim(winningPool, losingPool, stake amount.Amount, fees domain.FeeSchedule) (Claim, error) {
	if winningPool == 0 {
		return Claim{}, fmt.Errorf("settlement: %w", domain.ErrNoWinningStakes)
	}
	gross, err := losingPool.MulDiv(uint64(stake), uint64(winningPool))
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: winnings share: %w", err)
	}
	ammFee, err := gross.ApplyBps(fees.AmmFee)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: amm fee: %w", err)
	}
	afterAmm, err := gross.Sub(ammFee)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: amm fee: %w", err)
	}
	protocolFee, err := afterAmm.ApplyBps(fees.ProtocolFeeBps)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: protocol fee: %w", err)
	}
	fee, err := ammFee.Add(protocolFee)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: total fee: %w", err)
	}
	debit, err := stake.Add(gross)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: escrow debit: %w", err)
	}
	net, err := debit.Sub(fee)
	if err != nil {
		return Claim{}, fmt.Errorf("settlement: net payout: %w", err)
	}
	return Claim{
		Stake:       stake,
		Gross:       gross,
		AmmFee:      ammFee,
		ProtocolFee: protocolFee,
		Fee:         fee,
		Net:         net,
		EscrowDebit: debit,
	}, nil
}

// Refund is the breakdown of returning a stake.
type Refund struct {
	Stake amount.Amount `json:"stake"`
	Fee   amount.Amount `json:"fee"`
	Net   amount.Amount `json:"net"`
}

// ComputeRefund returns stake minus floor(stake*feeBps/10000).
func ComputeRefund(stake amount.Amount, feeBps uint16) (Refund, error) {
	fee, err := stake.ApplyBps(feeBps)
	if err != nil {
		return Refund{}, fmt.Errorf("settlement: refund fee: %w", err)
	}
	net, err := stake.Sub(fee)
	if err != nil {
		return Refund{}, fmt.Errorf("settlement: refund net: %w", err)
	}
	return Refund{Stake: stake, Fee: fee, Net: net}, nil
}

// FeeSplit is how one fee is divided between the two recipients.
type FeeSplit struct {
	Recipient amount.Amount `json:"recipient"`
	Dev       amount.Amount `json:"dev"`
}

// SplitFee gives half of fee (rounded down) to the fee recipient and the
// remainder to the dev recipient. Without a dev recipient everything goes to
// the fee recipient.
func SplitFee(fee amount.Amount, hasDev bool) FeeSplit {
	if !hasDev {
		return FeeSplit{Recipient: fee}
	}
	half := fee / 2
	return FeeSplit{Recipient: half, Dev: fee - half}
}

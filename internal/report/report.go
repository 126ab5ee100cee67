// Package report prints operator summaries of the ledger as text tables.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/service"
)

const (
	pageSize    = 200
	questionMax = 40
)

// Source is the read side of the ledger service used by reports.
type Source interface {
	GetProtocol(ctx context.Context) (domain.Protocol, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	VerifyMarket(ctx context.Context, id uint64) (service.Verification, error)
}

// Reporter writes market summaries to out.
type Reporter struct {
	src Source
	out io.Writer
}

// New creates a Reporter.
func New(src Source, out io.Writer) *Reporter {
	return &Reporter{src: src, out: out}
}

// Totals aggregates the rows of a market report.
type Totals struct {
	Markets  int
	Volume   amount.Amount
	Escrow   amount.Amount
	Failures int
}

// Markets prints the protocol header and one row per market with status
// (all markets when status is empty), followed by totals. Every market is
// verified; failed checks are flagged in the last column.
func (r *Reporter) Markets(ctx context.Context, status domain.MarketStatus) (Totals, error) {
	p, err := r.src.GetProtocol(ctx)
	switch {
	case errors.Is(err, domain.ErrNotInitialized):
		fmt.Fprintln(r.out, "protocol: not initialized")
		return Totals{}, nil
	case err != nil:
		return Totals{}, fmt.Errorf("report: %w", err)
	}
	r.protocolHeader(p)

	table := tablewriter.NewWriter(r.out)
	table.Header("ID", "Status", "Question", "Pools", "Volume", "Positions", "Escrow", "Ends", "Check")

	var totals Totals
	for offset := 0; ; offset += pageSize {
		markets, err := r.src.ListMarkets(ctx, status, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return totals, fmt.Errorf("report: list markets: %w", err)
		}
		for _, m := range markets {
			check, err := r.check(ctx, m)
			if err != nil {
				return totals, err
			}
			if check != "ok" {
				totals.Failures++
			}
			if err := table.Append(
				fmt.Sprintf("%d", m.ID),
				statusLabel(m),
				truncate(m.Question, questionMax),
				pools(m),
				m.TotalVolume.String(),
				fmt.Sprintf("%d", m.PositionCount),
				m.EscrowBalance.String(),
				m.EndTime.UTC().Format("2006-01-02 15:04"),
				check,
			); err != nil {
				return totals, fmt.Errorf("report: append row: %w", err)
			}
			totals.Markets++
			if totals.Volume, err = totals.Volume.Add(m.TotalVolume); err != nil {
				return totals, fmt.Errorf("report: total volume: %w", err)
			}
			if totals.Escrow, err = totals.Escrow.Add(m.EscrowBalance); err != nil {
				return totals, fmt.Errorf("report: total escrow: %w", err)
			}
		}
		if len(markets) < pageSize {
			break
		}
	}
	if err := table.Render(); err != nil {
		return totals, fmt.Errorf("report: render: %w", err)
	}

	fmt.Fprintf(r.out, "markets: %d  volume: %s  escrow: %s  failed checks: %d\n",
		totals.Markets, totals.Volume, totals.Escrow, totals.Failures)
	return totals, nil
}

func (r *Reporter) protocolHeader(p domain.Protocol) {
	fmt.Fprintf(r.out, "protocol %s\n", p.Address.Hex())
	fmt.Fprintf(r.out, "  authority:     %s\n", p.Authority.Hex())
	fmt.Fprintf(r.out, "  fee recipient: %s\n", p.FeeRecipient.Hex())
	if p.DevRecipient != (common.Address{}) {
		fmt.Fprintf(r.out, "  dev recipient: %s\n", p.DevRecipient.Hex())
	}
	fmt.Fprintf(r.out, "  fees:          protocol %d bps, cancel %d bps, amm %d bps\n",
		p.Fees.ProtocolFeeBps, p.Fees.CancelFeeBps, p.Fees.AmmFee)
	fmt.Fprintf(r.out, "  markets:       %d\n\n", p.MarketCount)
}

func (r *Reporter) check(ctx context.Context, m domain.Market) (string, error) {
	v, err := r.src.VerifyMarket(ctx, m.ID)
	if err != nil {
		return "", fmt.Errorf("report: verify market %d: %w", m.ID, err)
	}
	if v.OK {
		return "ok", nil
	}
	return "FAIL: " + truncate(v.Problem, questionMax), nil
}

func statusLabel(m domain.Market) string {
	s := string(m.Status())
	if m.Resolved {
		s += fmt.Sprintf(" (%d)", m.WinningOutcome)
	}
	if m.Archived {
		s += " archived"
	}
	return s
}

// pools renders "Yes=1.000000 No=2.000000".
func pools(m domain.Market) string {
	parts := make([]string, 0, len(m.Outcomes))
	for i, name := range m.Outcomes {
		var pool amount.Amount
		if i < len(m.OutcomePools) {
			pool = m.OutcomePools[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, pool))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

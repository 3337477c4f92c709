package ledger

import (
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// buildVoucherLines projects journal lines into voucher lines and
// returns the net local amount (sum of signed local amounts) the set
// carries.
func buildVoucherLines(journal GLJournal) ([]VoucherLine, float64) {
	lines := make([]VoucherLine, 0, len(journal.Lines))
	var net float64
	for i, line := range journal.Lines {
		lines = append(lines, VoucherLine{
			Num:           i + 1,
			AccountCode:   line.AccountCode,
			SubledgerCode: line.SubledgerCode,
			Debit:         line.Debit,
			Credit:        line.Credit,
			Currency:      line.Currency,
			ExchangeRate:  line.ExchangeRate,
			LocalAmount:   line.LocalAmount,
			Dimensions:    line.Dimensions,
			Subledger:     line.Subledger,
		})
		net += line.LocalAmount
	}
	return lines, valuation.Round2(net)
}

// fxBalancingLine absorbs multi-currency rounding drift. A negative net
// means credits exceed debits in local terms, covered by an FX loss
// debit; a positive net is offset by an FX gain credit. The injected
// local amount cancels the drift exactly.
func (s *Service) fxBalancingLine(journal GLJournal, num int, net float64) VoucherLine {
	line := VoucherLine{
		Num:          num,
		Currency:     baseCurrency(journal),
		ExchangeRate: 1,
		LocalAmount:  valuation.Round2(-net),
	}
	if net < 0 {
		line.AccountCode = s.cfg.FXLossAccountCode
		line.Debit = valuation.Round2(-net)
	} else {
		line.AccountCode = s.cfg.FXGainAccountCode
		line.Credit = valuation.Round2(net)
	}
	return line
}

func baseCurrency(journal GLJournal) string {
	for _, line := range journal.Lines {
		if line.ExchangeRate == 1 && line.Currency != "" {
			return line.Currency
		}
	}
	if len(journal.Lines) > 0 {
		return journal.Lines[0].Currency
	}
	return "USD"
}

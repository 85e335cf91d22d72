package fees

import (
	"errors"
	"fmt"

	"github.com/fastprodman/farmpay/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountTooLarge = errors.New("amount exceeds the maximum transaction amount")
	ErrFeeMismatch    = errors.New("fee breakdown does not match local computation")
)

// MaxAmount is the largest base amount Calculate accepts (1,000,000,000.00).
// Totals for it stay far inside int64 and the bigint storage columns.
const MaxAmount = money.Money(100_000_000_000)

var (
	platformRate    = decimal.RequireFromString("0.05")
	processingRate  = decimal.RequireFromString("0.029")
	processingFixed = money.FromMinor(30)
)

// Fees is the persisted pair of fees derived from an amount.
type Fees struct {
	Platform   money.Money `json:"platform"`
	Processing money.Money `json:"processing"`
}

// Sum returns platform + processing.
func (f Fees) Sum() money.Money {
	return f.Platform.Add(f.Processing)
}

// Breakdown is the display object rendered before a buyer commits.
type Breakdown struct {
	Subtotal      money.Money `json:"subtotal"`
	PlatformFee   money.Money `json:"platformFee"`
	ProcessingFee money.Money `json:"processingFee"`
	Total         money.Money `json:"total"`
	Fees          Fees        `json:"fees"`
}

// Calculate derives the fee breakdown for a base amount:
//
//	platform   = amount * 5%
//	processing = amount * 2.9% + 0.30
//	total      = amount + platform + processing
//
// Each fee is rounded half away from zero to a whole cent.
func Calculate(amount money.Money) (Breakdown, error) {
	if amount.IsNegative() {
		return Breakdown{}, fmt.Errorf("calculate fees for %s: %w", amount, ErrNegativeAmount)
	}

	if amount > MaxAmount {
		return Breakdown{}, fmt.Errorf("calculate fees for %s: %w", amount, ErrAmountTooLarge)
	}

	minor := decimal.NewFromInt(amount.Minor())

	platform := money.FromMinor(minor.Mul(platformRate).Round(0).IntPart())
	processing := money.FromMinor(minor.Mul(processingRate).Round(0).IntPart()).Add(processingFixed)

	f := Fees{Platform: platform, Processing: processing}

	return Breakdown{
		Subtotal:      amount,
		PlatformFee:   platform,
		ProcessingFee: processing,
		Total:         amount.Add(f.Sum()),
		Fees:          f,
	}, nil
}

// Verify fails closed when fees or total computed elsewhere for amount
// differ from Calculate.
func Verify(amount money.Money, got Fees, total money.Money) error {
	want, err := Calculate(amount)
	if err != nil {
		return err
	}

	if got != want.Fees || total != want.Total {
		return fmt.Errorf(
			"%w: amount %s: got platform %s processing %s total %s, want %s %s %s",
			ErrFeeMismatch, amount,
			got.Platform, got.Processing, total,
			want.PlatformFee, want.ProcessingFee, want.Total,
		)
	}

	return nil
}

// SellerNet is what the seller receives once the transaction completes.
func SellerNet(amount money.Money) (money.Money, error) {
	b, err := Calculate(amount)
	if err != nil {
		return 0, err
	}

	return amount.Sub(b.PlatformFee), nil
}

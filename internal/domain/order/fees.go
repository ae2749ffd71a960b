package order

import (
	"github.com/shopspring/decimal"
)

var (
	marketplaceRate  = decimal.RequireFromString("0.05")
	protectionRate   = decimal.RequireFromString("0.02")
	protectionCap    = decimal.RequireFromString("25.00")
	maxMoneyDecimals = int32(2)
)

// Fees are the financial terms fixed when an order is created. They are
// never recomputed afterwards.
type Fees struct {
	Amount         decimal.Decimal
	Shipping       decimal.Decimal
	FeeMarketplace decimal.Decimal
	FeeProtection  decimal.Decimal
	Total          decimal.Decimal
	SellerPayout   decimal.Decimal
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(maxMoneyDecimals)
}

// ComputeFees derives the order's fees from the listing price, shipping cost
// and whether buyer protection applies. Rounding is half away from zero to
// two decimals. Inputs carrying more than two decimals or negative values
// are rejected so that SellerPayout + FeeMarketplace == Amount holds exactly.
func ComputeFees(price, shipping decimal.Decimal, protection bool) (Fees, error) {
	if err := validateMoney("price", price); err != nil {
		return Fees{}, err
	}
	if err := validateMoney("shipping", shipping); err != nil {
		return Fees{}, err
	}

	feeMarketplace := round2(price.Mul(marketplaceRate))
	feeProtection := decimal.Zero
	if protection {
		feeProtection = decimal.Min(round2(price.Mul(protectionRate)), protectionCap)
	}

	return Fees{
		Amount:         price,
		Shipping:       shipping,
		FeeMarketplace: feeMarketplace,
		FeeProtection:  feeProtection,
		Total:          round2(price.Add(shipping).Add(feeProtection)),
		SellerPayout:   round2(price.Sub(feeMarketplace)),
	}, nil
}

func validateMoney(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	if !d.Equal(round2(d)) {
		return &ValidationError{Field: field, Reason: "must have at most 2 decimals"}
	}
	return nil
}

package events

import (
	"math/big"
	"strings"

	"dscd/core/types"
	"dscd/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters engine custody.
	TypeCollateralDeposited = "dsc.collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves engine custody,
	// either back to the depositor or to a liquidator.
	TypeCollateralRedeemed = "dsc.collateral.redeemed"
)

type CollateralDeposited struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	account := ""
	if !e.Account.IsZero() {
		account = e.Account.String()
	}
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": account,
			"asset":   strings.TrimSpace(e.Asset),
			"amount":  amount.String(),
		},
	}
}

type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  string
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	from := ""
	if !e.From.IsZero() {
		from = e.From.String()
	}
	to := ""
	if !e.To.IsZero() {
		to = e.To.String()
	}
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   from,
			"to":     to,
			"asset":  strings.TrimSpace(e.Asset),
			"amount": amount.String(),
		},
	}
}

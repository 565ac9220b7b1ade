package service

import (
	"github.com/shopspring/decimal"

	"trade_core/internal/models"
)

// LegCharges is the cost of one order leg at price for qty units, rounded
// to paise. Stamp duty applies to buys and transaction tax to sells; GST is
// charged on brokerage plus levies.
func LegCharges(m *models.ChargesModel, price float64, qty int, buy bool) decimal.Decimal {
	if m == nil || qty <= 0 {
		return decimal.Zero
	}
	turnover := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty)))
	brokerage := decimal.NewFromFloat(m.BrokeragePerOrder)
	levy := turnover.Mul(decimal.NewFromFloat(m.LevyRate))
	gst := brokerage.Add(levy).Mul(decimal.NewFromFloat(m.GSTRate))

	total := brokerage.Add(levy).Add(gst)
	if buy {
		total = total.Add(turnover.Mul(decimal.NewFromFloat(m.StampDutyRate)))
	} else {
		total = total.Add(turnover.Mul(decimal.NewFromFloat(m.TaxRate)))
	}
	return total.Round(2)
}

// EntryCharges is the opening leg: a buy for LONG, a sell for SHORT.
func EntryCharges(m *models.ChargesModel, side models.Side, price float64, qty int) decimal.Decimal {
	return LegCharges(m, price, qty, side == models.SideLong)
}

// ExitCharges is the closing leg, opposite to the entry.
func ExitCharges(m *models.ChargesModel, side models.Side, price float64, qty int) decimal.Decimal {
	return LegCharges(m, price, qty, side == models.SideShort)
}

// RoundTrip is entry plus exit charges for a trade closed at exit.
func RoundTrip(m *models.ChargesModel, side models.Side, entry, exit float64, qty int) decimal.Decimal {
	return EntryCharges(m, side, entry, qty).Add(ExitCharges(m, side, exit, qty))
}

// GrossPnL is the signed price move times quantity, rounded to paise.
func GrossPnL(side models.Side, fill, exit float64, qty int) decimal.Decimal {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(fill))
	if side == models.SideShort {
		move = move.Neg()
	}
	return move.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func round2(v float64) float64 {
	return toFloat(decimal.NewFromFloat(v).Round(2))
}

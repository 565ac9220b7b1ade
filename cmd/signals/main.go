package main

import (
	"trade_core/internal/app"
	"trade_core/internal/modules/candles"
	"trade_core/internal/modules/strategy"
)

func main() {
	app.Main("signals",
		candles.ReaderModule(),
		strategy.Module(),
	)
}

package main

import (
	"trade_core/internal/app"
	"trade_core/internal/modules/candles"
)

func main() {
	app.Main("aggregator", candles.Module())
}

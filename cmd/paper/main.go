package main

import (
	"trade_core/internal/app"
	"trade_core/internal/modules/paper"
	"trade_core/internal/modules/pricefeed"
	"trade_core/internal/modules/risk"
)

func main() {
	app.Main("paper",
		risk.ProfileModule(),
		pricefeed.Module(),
		paper.Module(),
	)
}

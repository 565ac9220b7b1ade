package main

import (
	"trade_core/internal/app"
	"trade_core/internal/modules/risk"
)

func main() {
	app.Main("gate", risk.Module())
}

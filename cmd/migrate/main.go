package main

import "trade_core/internal/app"

func main() {
	app.MigrateMain()
}

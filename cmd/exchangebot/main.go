package main

import "currency-exchange-bot/internal/cli"

func main() {
	cli.Execute()
}

// Package main is the entry point for the currency parser service.
//
// @title          CurrencyParser API
// @version        1.0
// @description    Collects fiat rates from the CBR and crypto prices from Binance, stores them as items and pushes every change to WebSocket clients and NATS.
// @host           localhost:8000
// @BasePath       /
// @schemes        http
package main

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}

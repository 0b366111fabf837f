// Command ledgerctl is the operator CLI for the outcome ledger. It drives the
// admin REST endpoints and mints tokens offline from the server config.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var (
	serverURL = flag.String("server", envOr("LEDGER_URL", "http://localhost:8080"), "ledger server base URL")
	token     = flag.String("token", os.Getenv("LEDGER_TOKEN"), "admin bearer token")
	retries   = flag.Int("retries", 3, "retries on lock-timeout (503) responses")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&marketsCmd{}, "markets")
	commander.Register(&createMarketCmd{}, "markets")
	commander.Register(&closeMarketCmd{}, "markets")
	commander.Register(&setPricesCmd{}, "markets")
	commander.Register(&resolveCmd{}, "markets")
	commander.Register(&usersCmd{}, "users")
	commander.Register(&reconcileCmd{}, "users")
	commander.Register(&tokenCmd{}, "auth")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *Client {
	return NewClient(*serverURL, *token, *retries)
}

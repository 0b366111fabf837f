package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/atmx/outcome-ledger/internal/auth"
	"github.com/atmx/outcome-ledger/internal/config"
	"github.com/atmx/outcome-ledger/internal/market"
	"github.com/atmx/outcome-ledger/internal/model"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	return subcommands.ExitUsageError
}

// markets

type marketsCmd struct {
	category string
	asJSON   bool
}

func (*marketsCmd) Name() string     { return "markets" }
func (*marketsCmd) Synopsis() string { return "list markets" }
func (*marketsCmd) Usage() string {
	return `markets [-category <category>] [-json]

  Lists every market, optionally filtered by category
  (uc, ivy, csu, international, other).
`
}

func (c *marketsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.category, "category", "", "only list markets in this category")
	f.BoolVar(&c.asJSON, "json", false, "print raw JSON")
}

func (c *marketsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	markets, err := newClient().ListMarkets(ctx, c.category)
	if err != nil {
		return fail("listing markets: %v", err)
	}
	if c.asJSON {
		if err := printJSON(markets); err != nil {
			return fail("%v", err)
		}
		return subcommands.ExitSuccess
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tYES\tNO\tYES SHARES\tNO SHARES\tNAME")
	for _, m := range markets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			m.ID, m.Status, m.Category, m.YesPrice, m.NoPrice, m.TotalYesShares, m.TotalNoShares, m.Name)
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

// create-market

type createMarketCmd struct {
	params market.CreateParams
}

func (*createMarketCmd) Name() string     { return "create-market" }
func (*createMarketCmd) Synopsis() string { return "create a new open market" }
func (*createMarketCmd) Usage() string {
	return `create-market -name <name> [-description <text>] [-category <category>] -yes <cents> -no <cents>

  Creates an open market. Prices are in cents and must lie in [0, 100].
`
}

func (c *createMarketCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.params.Name, "name", "", "market name (required)")
	f.StringVar(&c.params.Description, "description", "", "free-form description")
	f.StringVar(&c.params.Category, "category", "other", "market category")
	f.Int64Var(&c.params.YesPrice, "yes", 50, "YES price in cents")
	f.Int64Var(&c.params.NoPrice, "no", 50, "NO price in cents")
}

func (c *createMarketCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if strings.TrimSpace(c.params.Name) == "" {
		return usage("-name is required")
	}
	m, err := newClient().CreateMarket(ctx, c.params)
	if err != nil {
		return fail("creating market: %v", err)
	}
	fmt.Fprintf(stdout, "Created market %s (%s)\n", m.ID, m.Name)
	return subcommands.ExitSuccess
}

// close-market

type closeMarketCmd struct {
	id string
}

func (*closeMarketCmd) Name() string     { return "close-market" }
func (*closeMarketCmd) Synopsis() string { return "stop trading on a market" }
func (*closeMarketCmd) Usage() string {
	return `close-market -id <market-id>
`
}

func (c *closeMarketCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "market id (required)")
}

func (c *closeMarketCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id == "" {
		return usage("-id is required")
	}
	m, err := newClient().CloseMarket(ctx, c.id)
	if err != nil {
		return fail("closing market: %v", err)
	}
	fmt.Fprintf(stdout, "Market %s is now %s\n", m.ID, m.Status)
	return subcommands.ExitSuccess
}

// set-prices

type setPricesCmd struct {
	id      string
	yes, no int64
}

func (*setPricesCmd) Name() string     { return "set-prices" }
func (*setPricesCmd) Synopsis() string { return "update the quoted prices of an open market" }
func (*setPricesCmd) Usage() string {
	return `set-prices -id <market-id> -yes <cents> -no <cents>
`
}

func (c *setPricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "market id (required)")
	f.Int64Var(&c.yes, "yes", -1, "YES price in cents (required)")
	f.Int64Var(&c.no, "no", -1, "NO price in cents (required)")
}

func (c *setPricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id == "" || c.yes < 0 || c.no < 0 {
		return usage("-id, -yes and -no are required")
	}
	m, err := newClient().SetPrices(ctx, c.id, c.yes, c.no)
	if err != nil {
		return fail("setting prices: %v", err)
	}
	fmt.Fprintf(stdout, "Market %s: YES %d, NO %d\n", m.ID, m.YesPrice, m.NoPrice)
	return subcommands.ExitSuccess
}

// resolve

type resolveCmd struct {
	id      string
	outcome string
}

func (*resolveCmd) Name() string     { return "resolve" }
func (*resolveCmd) Synopsis() string { return "resolve a market and pay out winners" }
func (*resolveCmd) Usage() string {
	return `resolve -id <market-id> -outcome YES|NO

  Resolves the market. Every winning share is paid 100 cents and all
  positions in the market are zeroed. A market can be resolved once.
`
}

func (c *resolveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "market id (required)")
	f.StringVar(&c.outcome, "outcome", "", "winning outcome, YES or NO (required)")
}

func (c *resolveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	outcome := model.Outcome(strings.ToUpper(c.outcome))
	if c.id == "" || !outcome.Valid() {
		return usage("-id and -outcome YES|NO are required")
	}
	res, err := newClient().Resolve(ctx, c.id, outcome)
	if err != nil {
		return fail("resolving market: %v", err)
	}
	if res.Settlement != nil {
		fmt.Fprintf(stdout, "Resolved %s as %s: paid %d cents to %d holders, %d positions zeroed\n",
			c.id, outcome, res.Settlement.TotalPaid, len(res.Settlement.Payouts), res.Settlement.PositionsZeroed)
	}
	return subcommands.ExitSuccess
}

// users

type usersCmd struct {
	asJSON bool
}

func (*usersCmd) Name() string     { return "users" }
func (*usersCmd) Synopsis() string { return "list registered users" }
func (*usersCmd) Usage() string {
	return `users [-json]
`
}

func (c *usersCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print raw JSON")
}

func (c *usersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	users, err := newClient().ListUsers(ctx)
	if err != nil {
		return fail("listing users: %v", err)
	}
	if c.asJSON {
		if err := printJSON(users); err != nil {
			return fail("%v", err)
		}
		return subcommands.ExitSuccess
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tBALANCE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", u.ID, u.Username, u.Balance)
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

// reconcile

type reconcileCmd struct {
	id  string
	all bool
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "check balances against the transaction log" }
func (*reconcileCmd) Usage() string {
	return `reconcile (-id <user-id> | -all)

  Verifies that starting balance plus net transaction amounts equals the
  current balance. Exits non-zero when any user is inconsistent.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "user id")
	f.BoolVar(&c.all, "all", false, "reconcile every user")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if (c.id == "") == !c.all {
		return usage("exactly one of -id or -all is required")
	}
	client := newClient()

	ids := []string{c.id}
	if c.all {
		users, err := client.ListUsers(ctx)
		if err != nil {
			return fail("listing users: %v", err)
		}
		ids = ids[:0]
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	}

	status := subcommands.ExitSuccess
	for _, id := range ids {
		rec, err := client.Reconcile(ctx, id)
		if err != nil {
			return fail("reconciling %s: %v", id, err)
		}
		mark := "ok"
		if !rec.Consistent {
			mark = "MISMATCH"
			status = subcommands.ExitFailure
		}
		fmt.Fprintf(stdout, "%s  %s expected=%d actual=%d txns=%d\n",
			mark, rec.UserID, rec.ExpectedBalance, rec.Balance, rec.TransactionCount)
	}
	return status
}

// token

type tokenCmd struct {
	configPath string
	user       string
	role       string
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "mint a bearer token from the server config" }
func (*tokenCmd) Usage() string {
	return `token -user <id> [-role user|admin] [-config <path>]

  Signs a token offline with the configured JWT secret. Reads the same
  TOML file, .env and environment variables as the server.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", os.Getenv("LEDGER_CONFIG"), "path to TOML config file")
	f.StringVar(&c.user, "user", "", "subject user id (required)")
	f.StringVar(&c.role, "role", auth.RoleAdmin, "token role")
}

func (c *tokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		return usage("-user is required")
	}
	if c.role != auth.RoleUser && c.role != auth.RoleAdmin {
		return usage("-role must be user or admin")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fail("loading config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fail("JWT secret is not configured")
	}
	tok, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration).Issue(c.user, c.role)
	if err != nil {
		return fail("signing token: %v", err)
	}
	fmt.Fprintln(stdout, tok)
	return subcommands.ExitSuccess
}

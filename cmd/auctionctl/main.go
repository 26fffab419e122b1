package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/sealedsale/pkg/devaccounts"
	sdk "github.com/betbot/sealedsale/pkg/sdk/http"
)

const usage = `auctionctl <command> [flags]

commands:
  accounts   print dev accounts derived from the mnemonic
  scenario   run a full auction + escrow settlement against a server
  auction    show an auction snapshot
  escrow     show an escrow snapshot
  balance    show ether or token balance of an address
  events     list indexed events`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "accounts":
		err = runAccounts(args)
	case "scenario":
		err = runScenario(ctx, args)
	case "auction", "escrow":
		err = runShow(ctx, cmd, args)
	case "balance":
		err = runBalance(ctx, args)
	case "events":
		err = runEvents(ctx, args)
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		err = fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	if err != nil {
		fatal(err)
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

func serverFlag(fs *flag.FlagSet) *string {
	return fs.String("server", getenv("SEALEDSALE_SERVER", "http://127.0.0.1:8080"), "sealedsale server base URL")
}

func mnemonicFlag(fs *flag.FlagSet) *string {
	return fs.String("mnemonic", getenv("SEALEDSALE_DEV_MNEMONIC", ""), "dev mnemonic (same as the server's dev.mnemonic)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAccounts(args []string) error {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	mnemonic := mnemonicFlag(fs)
	n := fs.Int("n", 5, "number of accounts")
	showKeys := fs.Bool("show-keys", false, "print private keys")
	_ = fs.Parse(args)

	accts, err := devaccounts.Derive(*mnemonic, *n)
	if err != nil {
		return err
	}
	for _, a := range accts {
		if *showKeys {
			fmt.Printf("#%d %s %s %s\n", a.Index, a.Path, a.Address.Hex(), a.PrivateKeyHex)
			continue
		}
		fmt.Printf("#%d %s %s\n", a.Index, a.Path, a.Address.Hex())
	}
	return nil
}

func runScenario(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scenario", flag.ExitOnError)
	server := serverFlag(fs)
	mnemonic := mnemonicFlag(fs)
	window := fs.Duration("window", 5*time.Second, "auction window length")
	_ = fs.Parse(args)

	// #0 为注册表管理员，#1 卖家，#2/#3 竞拍者
	accts, err := devaccounts.Derive(*mnemonic, 4)
	if err != nil {
		return err
	}
	s := &scenario{
		client:  sdk.NewClient(*server),
		seller:  accts[1].Address.Hex(),
		bidder1: accts[2].Address.Hex(),
		bidder2: accts[3].Address.Hex(),
		window:  *window,
		now:     time.Now,
		wait: func(ctx context.Context, until time.Time) error {
			return sleepUntil(ctx, until.Add(time.Second))
		},
		out: os.Stdout,
	}
	res, err := s.run(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runShow(ctx context.Context, kind string, args []string) error {
	fs := flag.NewFlagSet(kind, flag.ExitOnError)
	server := serverFlag(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: auctionctl %s [-server URL] <address>", kind)
	}

	client := sdk.NewClient(*server)
	var (
		snap map[string]any
		err  error
	)
	if kind == "auction" {
		snap, err = client.Auction(ctx, fs.Arg(0))
	} else {
		snap, err = client.Escrow(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	server := serverFlag(fs)
	tokenAddr := fs.String("token", "", "token contract (empty for ether)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: auctionctl balance [-server URL] [-token ADDR] <address>")
	}

	client := sdk.NewClient(*server)
	var (
		bal *sdk.Balance
		err error
	)
	if *tokenAddr != "" {
		bal, err = client.TokenBalance(ctx, *tokenAddr, fs.Arg(0))
	} else {
		bal, err = client.Account(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return printJSON(bal)
}

func runEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	server := serverFlag(fs)
	name := fs.String("name", "", "event name filter")
	contract := fs.String("contract", "", "contract address filter")
	after := fs.Uint64("after", 0, "return events with seq > after")
	limit := fs.Int("limit", 100, "page size")
	_ = fs.Parse(args)

	page, err := sdk.NewClient(*server).Events(ctx, *name, *contract, *after, *limit)
	if err != nil {
		return err
	}
	return printJSON(page)
}

// main.go - Command line front end for the shielded wallet.
//
// Every command loads the JSON config (created with defaults on first run),
// opens the wallet store and the simulated pool ledger, runs, and writes the
// ledger back. Secrets come from the environment:
//
//	SHIELDD_SIGNER_KEY   hex secp256k1 key, overrides the signer key file
//	SHIELDD_PASSPHRASE   seals the derived wallet keys at rest
//
// Usage:
//
//	shieldd init
//	shieldd deposit --token 0x.. --amount 100
//	shieldd transfer --token 0x.. <pubkeys>:<amount> [...]
//	shieldd withdraw --token 0x.. --amount 40 --to 0x..
//	shieldd sync [--rescan]
//	shieldd watch
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/robfig/cron"
	"gopkg.in/urfave/cli.v1"

	"shieldwallet/internal/health"
	"shieldwallet/internal/keys"
	"shieldwallet/internal/wallet"
)

const version = "0.3.0"

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path of the JSON config file",
		Value: ".shieldd/config.json",
	}
	promptFlag = cli.BoolFlag{
		Name:  "prompt",
		Usage: "read the key passphrase from the terminal",
	}
	jsonFlag = cli.BoolFlag{
		Name:  "json",
		Usage: "print JSON instead of text",
	}
	tokenFlag = cli.StringFlag{
		Name:  "token",
		Usage: "token contract address",
	}
	amountFlag = cli.StringFlag{
		Name:  "amount",
		Usage: "amount in base units",
	}
	toFlag = cli.StringFlag{
		Name:  "to",
		Usage: "L1 address receiving the withdrawal",
	}
	rescanFlag = cli.BoolFlag{
		Name:  "rescan",
		Usage: "replay the pool from its first block into a fresh tree",
	}
	allFlag = cli.BoolFlag{
		Name:  "all",
		Usage: "include spent notes",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "shieldd"
	app.Usage = "shielded balance wallet"
	app.Version = version
	app.Flags = []cli.Flag{configFlag, promptFlag}
	app.Commands = []cli.Command{
		commandInit,
		commandPubkeys,
		commandDeposit,
		commandTransfer,
		commandWithdraw,
		commandSync,
		commandBalance,
		commandNotes,
		commandStatus,
		commandWatch,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commandInit = cli.Command{
	Name:  "init",
	Usage: "create a signer key if needed and derive the wallet keys",
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()
		pk, err := rt.wallet.PublicKeys()
		if err != nil {
			return err
		}
		fmt.Println("Address:    ", rt.wallet.Address().Hex())
		fmt.Println("Public keys:", pk.Hex())
		return nil
	},
}

var commandPubkeys = cli.Command{
	Name:  "pubkeys",
	Usage: "print the public keys senders need to pay this wallet",
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()
		pk, err := rt.wallet.PublicKeys()
		if err != nil {
			return err
		}
		fmt.Println(pk.Hex())
		return nil
	},
}

var commandDeposit = cli.Command{
	Name:  "deposit",
	Usage: "move public funds into the shielded pool",
	Flags: []cli.Flag{tokenFlag, amountFlag},
	Action: func(ctx *cli.Context) error {
		token, err := parseAddress(tokenFlag.Name, ctx.String(tokenFlag.Name))
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx.String(amountFlag.Name))
		if err != nil {
			return err
		}
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.wallet.Deposit(context.Background(), token, amount)
		if err != nil {
			return err
		}
		fmt.Printf("Deposited %s at leaf %d (block %d)\n", n.Amount, n.LeafIndex, n.BlockNumber)
		fmt.Println("Commitment:", n.Commitment.Hex())
		return nil
	},
}

var commandTransfer = cli.Command{
	Name:      "transfer",
	Usage:     "pay one or more shielded recipients",
	ArgsUsage: "<pubkeys>:<amount> [<pubkeys>:<amount> ...]",
	Flags:     []cli.Flag{tokenFlag},
	Action: func(ctx *cli.Context) error {
		token, err := parseAddress(tokenFlag.Name, ctx.String(tokenFlag.Name))
		if err != nil {
			return err
		}
		if ctx.NArg() == 0 {
			return fmt.Errorf("transfer needs at least one <pubkeys>:<amount> argument")
		}
		recipients := make([]wallet.Recipient, 0, ctx.NArg())
		for _, arg := range ctx.Args() {
			r, err := parseRecipient(arg)
			if err != nil {
				return err
			}
			recipients = append(recipients, r)
		}
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.wallet.Transfer(context.Background(), token, recipients)
		if err != nil {
			return err
		}
		printSpend(res)
		return nil
	},
}

var commandWithdraw = cli.Command{
	Name:  "withdraw",
	Usage: "release shielded funds to an L1 address",
	Flags: []cli.Flag{tokenFlag, amountFlag, toFlag},
	Action: func(ctx *cli.Context) error {
		token, err := parseAddress(tokenFlag.Name, ctx.String(tokenFlag.Name))
		if err != nil {
			return err
		}
		to, err := parseAddress(toFlag.Name, ctx.String(toFlag.Name))
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx.String(amountFlag.Name))
		if err != nil {
			return err
		}
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.wallet.Withdraw(context.Background(), token, amount, to)
		if err != nil {
			return err
		}
		printSpend(res)
		return nil
	},
}

var commandSync = cli.Command{
	Name:  "sync",
	Usage: "pull new commitments and nullifiers from the pool",
	Flags: []cli.Flag{rescanFlag},
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		run := rt.syncer.Sync
		if ctx.Bool(rescanFlag.Name) {
			run = rt.syncer.Rescan
		}
		rep, err := run(context.Background())
		if err != nil {
			return err
		}
		if rep.Skipped {
			fmt.Println("Nothing to sync yet; use --rescan to look for incoming payments")
			return nil
		}
		fmt.Printf("Synced blocks %d..%d: %d events, %d new notes, %d newly spent\n",
			rep.FromBlock, rep.ToBlock, rep.Events, rep.Discovered, rep.NewlySpent)
		if rep.Reindexed > 0 {
			fmt.Printf("Corrected the leaf index of %d notes\n", rep.Reindexed)
		}
		return nil
	},
}

var commandBalance = cli.Command{
	Name:  "balance",
	Usage: "show unspent totals per token",
	Flags: []cli.Flag{jsonFlag},
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		balances := rt.wallet.Balances()
		if ctx.Bool(jsonFlag.Name) {
			return printJSON(balances)
		}
		tokens := make([]common.Address, 0, len(balances))
		for t := range balances {
			tokens = append(tokens, t)
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
		for _, t := range tokens {
			fmt.Printf("%s  %s\n", t.Hex(), balances[t])
		}
		if len(tokens) == 0 {
			fmt.Println("No unspent notes")
		}
		return nil
	},
}

var commandNotes = cli.Command{
	Name:  "notes",
	Usage: "list owned notes",
	Flags: []cli.Flag{jsonFlag, allFlag},
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		notes := rt.wallet.UnspentNotes()
		if ctx.Bool(allFlag.Name) {
			notes = rt.wallet.Notes()
		}
		if ctx.Bool(jsonFlag.Name) {
			return printJSON(notes)
		}
		for _, n := range notes {
			state := "unspent"
			if n.Spent {
				state = "spent"
			}
			fmt.Printf("#%-6d %s %s %-8s %s\n", n.LeafIndex, n.Token.Hex(), n.Amount, state, n.Commitment.Hex())
		}
		return nil
	},
}

var commandStatus = cli.Command{
	Name:  "status",
	Usage: "check collaborators and print metrics",
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		report := rt.health.CheckHealth(context.Background())
		return printJSON(map[string]interface{}{
			"health":        health.CreateResponse(report),
			"last_synced":   rt.wallet.LastSyncedBlock(),
			"chain_height":  rt.ledger.BlockNumber(),
			"local_root":    rt.wallet.Root(),
			"chain_root":    rt.ledger.Root(),
			"metrics":       rt.metrics.GetMetricsSummary(),
			"unspent_notes": len(rt.wallet.UnspentNotes()),
		})
	},
}

var commandWatch = cli.Command{
	Name:  "watch",
	Usage: "sync on the configured schedule until interrupted",
	Action: func(ctx *cli.Context) error {
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		bg, cancel := context.WithCancel(context.Background())
		defer cancel()
		rt.watchSync()

		c := cron.New()
		job := &syncJob{run: func() {
			rt.syncer.Tick(bg)
			report := rt.health.CheckHealth(bg)
			if report.OverallStatus != health.Healthy {
				log.Warn("Wallet health degraded", "status", report.OverallStatus)
			}
		}}
		if err := c.AddJob(rt.cfg.SyncSchedule, job); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", rt.cfg.SyncSchedule, err)
		}
		log.Info("Watching pool", "schedule", rt.cfg.SyncSchedule, "address", rt.wallet.Address())
		job.Run()
		c.Start()
		defer c.Stop()

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Shutting down")
		return nil
	},
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address, got %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("--%s is required", amountFlag.Name)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func parseRecipient(arg string) (wallet.Recipient, error) {
	i := strings.LastIndex(arg, ":")
	if i < 0 {
		return wallet.Recipient{}, fmt.Errorf("recipient %q: want <pubkeys>:<amount>", arg)
	}
	pk, err := keys.ParsePublicKeys(arg[:i])
	if err != nil {
		return wallet.Recipient{}, fmt.Errorf("recipient %q: %w", arg, err)
	}
	amount, err := parseAmount(arg[i+1:])
	if err != nil {
		return wallet.Recipient{}, fmt.Errorf("recipient %q: %w", arg, err)
	}
	return wallet.Recipient{Amount: amount, PublicKeys: pk}, nil
}

func printSpend(res *wallet.SpendResult) {
	fmt.Printf("Confirmed in block %d, tx %s\n", res.BlockNumber, res.Tx)
	fmt.Printf("Spent %d notes, created %d outputs, change %s\n", len(res.Spent), len(res.Outputs), res.Change)
	if !res.Change.IsZero() {
		fmt.Println("Run `shieldd sync` to pick up the change note")
	}
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

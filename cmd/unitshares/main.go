package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/config"
	"set-gorebalance/internal/dotenv"
	"set-gorebalance/internal/ethutil"
	"set-gorebalance/internal/fixedpoint"
	"set-gorebalance/internal/fixture"
	"set-gorebalance/internal/rebalance"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var (
		setFlag      string
		snapshotFlag string
		cTokensFlag  string
		printJSON    bool
	)
	flag.StringVar(&setFlag, "set", "", "Rebalancing set address (default from REBALANCING_SET).")
	flag.StringVar(&snapshotFlag, "snapshot", "", "Write the chain snapshot to this path (default from SNAPSHOT_PATH).")
	flag.StringVar(&cTokensFlag, "ctokens", "", "Comma-separated cToken addresses to restate in underlying terms (default from CTOKENS).")
	flag.BoolVar(&printJSON, "json", false, "Print the projection as JSON.")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if strings.TrimSpace(setFlag) != "" {
		addr, err := ethutil.ParseAddress("--set", setFlag)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		cfg.RebalancingSet = addr
	}
	if strings.TrimSpace(cTokensFlag) != "" {
		list, err := ethutil.ParseAddressList(cTokensFlag)
		if err != nil {
			log.Fatalf("[fatal] invalid --ctokens: %v", err)
		}
		cfg.CTokens = list
	}
	if strings.TrimSpace(snapshotFlag) != "" {
		cfg.SnapshotPath = snapshotFlag
	}
	set, err := cfg.RequireRebalancingSet()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	rpcURL, err := cfg.RequireRPCURL()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec, client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer ec.Close()
	client.WithCallTimeout(cfg.CallTimeout)

	snap, err := rebalance.FetchSnapshot(ctx, client, set)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if err := fixture.SaveSnapshot(cfg.SnapshotPath, snap); err != nil {
		log.Printf("[warn] save snapshot: %v", err)
	}

	projection, err := rebalance.ExpectedUnitShares(ctx, client, snap)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	current, err := client.UnitShares(ctx, set)
	if err != nil {
		log.Printf("[warn] read current unit shares: %v", err)
	}

	log.Printf("[unitshares] set=%s state=%s next=%s supply=%s natural_unit=%s", set.Hex(), snap.State, snap.NextSet.Hex(), snap.Supply, snap.NaturalUnit)
	log.Printf("[unitshares] binding=%s max_issue=%s issue=%s outstanding=%s", projection.Binding.Hex(), projection.MaxIssueAmount, projection.IssueAmount, projection.NaturalUnitsOutstanding)
	log.Printf("[unitshares] current=%v projected=%s", current, projection.UnitShares)

	if len(cfg.CTokens) > 0 {
		units, err := rebalance.NextBasketUnderlying(ctx, client, snap, cfg.CTokens)
		if err != nil {
			log.Printf("[warn] underlying units: %v", err)
		}
		for i, u := range units {
			log.Printf("[underlying] component=%s asset=%s unit=%s", snap.Next.Components[i].Address.Hex(), u.Address.Hex(), u.Unit)
		}
		for _, c := range cfg.CTokens {
			rate, err := client.ExchangeRate(ctx, c)
			if err != nil {
				log.Printf("[warn] exchange rate %s: %v", c.Hex(), err)
				continue
			}
			log.Printf("[underlying] ctoken=%s rate=%s", c.Hex(), fixedpoint.FormatUnits(rate, fixedpoint.WeiDecimals))
		}
	}

	if printJSON {
		b, err := json.MarshalIndent(projection, "", "  ")
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		fmt.Println(string(b))
	}
}

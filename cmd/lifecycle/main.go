package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/core/types"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/config"
	"set-gorebalance/internal/dotenv"
	"set-gorebalance/internal/ethutil"
	"set-gorebalance/internal/fixedpoint"
)

const usage = `usage: lifecycle [flags] <propose|start|settle|end-failed>`

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var (
		setFlag      string
		nextFlag     string
		libraryFlag  string
		pivotFlag    uint64
		startPrice   string
		pivotPrice   string
		expectedFlag string
	)
	flag.StringVar(&setFlag, "set", "", "Rebalancing set address (default from REBALANCING_SET).")
	flag.StringVar(&nextFlag, "next", "", "propose: next set address.")
	flag.StringVar(&libraryFlag, "library", "", "propose: auction price library address.")
	flag.Uint64Var(&pivotFlag, "time-to-pivot", 0, "propose: seconds until the pivot price.")
	flag.StringVar(&startPrice, "start-price", "", "propose: auction start price numerator.")
	flag.StringVar(&pivotPrice, "pivot-price", "", "propose: auction pivot price numerator.")
	flag.StringVar(&expectedFlag, "expect-state", "", "Refuse to send unless the set is in this state (Default, Proposal, Rebalance, Drawdown).")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("[fatal] %s", usage)
	}
	action := flag.Arg(0)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if strings.TrimSpace(setFlag) != "" {
		if cfg.RebalancingSet, err = ethutil.ParseAddress("--set", setFlag); err != nil {
			log.Fatalf("[fatal] %v", err)
		}
	}
	set, err := cfg.RequireRebalancingSet()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if cfg.PrivateKey == nil {
		log.Fatalf("[fatal] private key required (set PRIVATE_KEY)")
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

	state, err := client.RebalanceState(ctx, set)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	log.Printf("[lifecycle] set=%s state=%s action=%s", set.Hex(), state, action)
	if e := strings.TrimSpace(expectedFlag); e != "" && !strings.EqualFold(e, state.String()) {
		log.Fatalf("[fatal] set is in state %s, expected %s", state, e)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		log.Fatalf("[fatal] chain id: %v", err)
	}
	sub, err := chain.NewSubmitter(ec, chainID, cfg.PrivateKey)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	var tx *types.Transaction
	switch action {
	case "propose":
		p, err := proposal(nextFlag, libraryFlag, pivotFlag, startPrice, pivotPrice)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		tx, err = sub.Propose(ctx, cfg.Tx, set, p)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
	case "start":
		tx, err = sub.StartRebalance(ctx, cfg.Tx, set)
	case "settle":
		tx, err = sub.SettleRebalance(ctx, cfg.Tx, set)
	case "end-failed":
		if state != auction.StateRebalance {
			log.Printf("[warn] endFailedAuction outside Rebalance will revert")
		}
		tx, err = sub.EndFailedAuction(ctx, cfg.Tx, set)
	default:
		log.Fatalf("[fatal] unknown action %q; %s", action, usage)
	}
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	log.Printf("[lifecycle] submitted tx=%s from=%s gas_price=%s gwei", tx.Hash().Hex(), sub.From().Hex(), fixedpoint.FormatUnits(tx.GasPrice(), 9))
	receipt, err := sub.Wait(ctx, cfg.Tx, tx)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	log.Printf("[lifecycle] mined tx=%s block=%s gas_used=%d", tx.Hash().Hex(), receipt.BlockNumber, receipt.GasUsed)
}

func proposal(next, library string, timeToPivot uint64, startPrice, pivotPrice string) (chain.Proposal, error) {
	nextSet, err := ethutil.ParseAddress("--next", next)
	if err != nil {
		return chain.Proposal{}, err
	}
	lib, err := ethutil.ParseAddress("--library", library)
	if err != nil {
		return chain.Proposal{}, err
	}
	if timeToPivot == 0 {
		return chain.Proposal{}, fmt.Errorf("--time-to-pivot must be > 0")
	}
	start, ok := new(big.Int).SetString(strings.TrimSpace(startPrice), 10)
	if !ok || start.Sign() < 0 {
		return chain.Proposal{}, fmt.Errorf("invalid --start-price %q", startPrice)
	}
	pivot, ok := new(big.Int).SetString(strings.TrimSpace(pivotPrice), 10)
	if !ok || pivot.Sign() < 0 {
		return chain.Proposal{}, fmt.Errorf("invalid --pivot-price %q", pivotPrice)
	}
	return chain.Proposal{
		NextSet:        nextSet,
		AuctionLibrary: lib,
		TimeToPivot:    new(big.Int).SetUint64(timeToPivot),
		StartPrice:     start,
		PivotPrice:     pivot,
	}, nil
}

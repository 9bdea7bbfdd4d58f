package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/config"
	"set-gorebalance/internal/dotenv"
	"set-gorebalance/internal/ethutil"
	"set-gorebalance/internal/fixture"
	"set-gorebalance/internal/jsonl"
	"set-gorebalance/internal/rebalance"
)

type args struct {
	cfg config.Config

	set         common.Address
	quantity    *big.Int
	cTokens     []common.Address
	interval    time.Duration
	printJSON   bool
	withdraw    bool
	partialFill bool
}

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bidLog := jsonl.New(parsed.cfg.BidLogPath)
	defer func() {
		if err := bidLog.Close(); err != nil {
			log.Printf("[warn] bid log close: %v", err)
		}
	}()

	rpcURL, err := parsed.cfg.RequireRPCURL()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	ec, client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer ec.Close()
	client.WithCallTimeout(parsed.cfg.CallTimeout)

	var submitter *chain.Submitter
	if parsed.cfg.EnableBids {
		chainID, err := ec.ChainID(ctx)
		if err != nil {
			log.Fatalf("[fatal] chain id: %v", err)
		}
		submitter, err = chain.NewSubmitter(ec, chainID, parsed.cfg.PrivateKey)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		log.Printf("[bid] live mode: bidder=%s module=%s", submitter.From().Hex(), parsed.cfg.AuctionModule.Hex())
	}

	if parsed.interval <= 0 {
		if err := runOnce(ctx, client, submitter, parsed, bidLog); err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		return
	}

	ticker := time.NewTicker(parsed.interval)
	defer ticker.Stop()
	for {
		if err := runOnce(ctx, client, submitter, parsed, bidLog); err != nil {
			log.Printf("[warn] run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseArgs() (args, error) {
	var (
		setFlag      string
		quantityFlag string
		cTokensFlag  string
		everyFlag    string
		enableFlag   bool
	)
	var parsed args

	flag.StringVar(&setFlag, "set", "", "Rebalancing set address (default from REBALANCING_SET).")
	flag.StringVar(&quantityFlag, "quantity", "", "Bid quantity in base units. Empty = largest valid bid.")
	flag.StringVar(&cTokensFlag, "ctokens", "", "Comma-separated cToken addresses to report in underlying terms (default from CTOKENS).")
	flag.StringVar(&everyFlag, "every", "", "Repeat interval (e.g. 15s). Empty = run once.")
	flag.BoolVar(&parsed.printJSON, "json", false, "Print the bid plan as JSON.")
	flag.BoolVar(&enableFlag, "enable-bids", false, "Submit the bid (default false; set ENABLE_BIDS).")
	flag.BoolVar(&parsed.withdraw, "withdraw", false, "Use bidAndWithdraw so received tokens leave the vault.")
	flag.BoolVar(&parsed.partialFill, "partial-fill", true, "Allow the auction to fill less than the full quantity.")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		return parsed, err
	}
	if strings.TrimSpace(setFlag) != "" {
		addr, err := ethutil.ParseAddress("--set", setFlag)
		if err != nil {
			return parsed, err
		}
		cfg.RebalancingSet = addr
	}
	if strings.TrimSpace(cTokensFlag) != "" {
		list, err := ethutil.ParseAddressList(cTokensFlag)
		if err != nil {
			return parsed, fmt.Errorf("invalid --ctokens: %w", err)
		}
		cfg.CTokens = list
	}
	if enableFlag {
		cfg.EnableBids = true
	}
	if cfg.EnableBids {
		if err := cfg.RequireBidding(); err != nil {
			return parsed, err
		}
	}

	set, err := cfg.RequireRebalancingSet()
	if err != nil {
		return parsed, err
	}
	if q := strings.TrimSpace(quantityFlag); q != "" {
		v, ok := new(big.Int).SetString(strings.ReplaceAll(q, "_", ""), 10)
		if !ok || v.Sign() <= 0 {
			return parsed, fmt.Errorf("invalid --quantity %q", quantityFlag)
		}
		parsed.quantity = v
	}
	if e := strings.TrimSpace(everyFlag); e != "" {
		d, err := time.ParseDuration(e)
		if err != nil {
			return parsed, fmt.Errorf("invalid --every duration %q: %w", everyFlag, err)
		}
		parsed.interval = d
	}

	parsed.cfg = cfg
	parsed.set = set
	parsed.cTokens = cfg.CTokens
	return parsed, nil
}

func runOnce(ctx context.Context, client *chain.Client, submitter *chain.Submitter, parsed args, bidLog *jsonl.Writer) error {
	snap, err := rebalance.FetchSnapshot(ctx, client, parsed.set)
	if err != nil {
		return err
	}
	if err := fixture.SaveSnapshot(parsed.cfg.SnapshotPath, snap); err != nil {
		log.Printf("[warn] save snapshot: %v", err)
	}

	log.Printf("[rebalance] set=%s state=%s current=%s next=%s block_time=%d", snap.RebalancingSet.Hex(), snap.State, snap.CurrentSet.Hex(), snap.NextSet.Hex(), snap.BlockTime)
	if !snap.Rebalancing() {
		log.Printf("[rebalance] no auction running")
		return nil
	}

	plan, err := rebalance.BuildPlan(ctx, client, snap, parsed.quantity, parsed.cTokens)
	if err != nil {
		rebalance.LogEvent(bidLog, rebalance.BidEvent{TsMs: time.Now().UnixMilli(), Event: "error", RebalancingSet: parsed.set.Hex(), Err: err.Error()})
		return err
	}
	printPlan(plan, parsed.cTokens)
	if parsed.printJSON {
		b, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	}
	rebalance.LogEvent(bidLog, plan.Event("plan", submitter != nil))

	if submitter == nil {
		log.Printf("[bid] dry-run: set ENABLE_BIDS=true (or --enable-bids) to submit")
		return nil
	}
	return submit(ctx, client, submitter, parsed, plan, bidLog)
}

func submit(ctx context.Context, client *chain.Client, submitter *chain.Submitter, parsed args, plan *rebalance.Plan, bidLog *jsonl.Writer) error {
	opts := parsed.cfg.Tx
	short, err := rebalance.Shortfalls(ctx, client, submitter.From(), plan.Transfers)
	if err != nil {
		log.Printf("[warn] wallet balance check: %v", err)
	}
	if len(short) > 0 {
		for _, sf := range short {
			log.Printf("[bid] shortfall token=%s need=%s have=%s", sf.Token.Hex(), sf.Need, sf.Balance)
		}
		err := fmt.Errorf("bidder %s cannot cover %d inflow(s)", submitter.From().Hex(), len(short))
		ev := plan.Event("error", true)
		ev.Err = err.Error()
		rebalance.LogEvent(bidLog, ev)
		return err
	}

	tx, err := submitter.Bid(ctx, opts, parsed.cfg.AuctionModule, parsed.set, plan.BidQuantity, parsed.withdraw, parsed.partialFill)
	if err != nil {
		ev := plan.Event("error", true)
		ev.Err = err.Error()
		rebalance.LogEvent(bidLog, ev)
		return err
	}
	log.Printf("[bid] submitted tx=%s quantity=%s", tx.Hash().Hex(), plan.BidQuantity)
	ev := plan.Event("submit", true)
	ev.TxHash = tx.Hash().Hex()
	rebalance.LogEvent(bidLog, ev)

	receipt, err := submitter.Wait(ctx, opts, tx)
	if err != nil {
		ev := plan.Event("error", true)
		ev.TxHash = tx.Hash().Hex()
		ev.Err = err.Error()
		rebalance.LogEvent(bidLog, ev)
		return err
	}
	log.Printf("[bid] mined tx=%s block=%s gas_used=%d", tx.Hash().Hex(), receipt.BlockNumber, receipt.GasUsed)
	ev = plan.Event("mined", true)
	ev.TxHash = tx.Hash().Hex()
	ev.GasUsed = receipt.GasUsed

	placed, err := chain.BidsInReceipt(receipt, parsed.cfg.AuctionModule)
	if err != nil {
		log.Printf("[warn] decode BidPlaced: %v", err)
	}
	for _, p := range placed {
		log.Printf("[bid] executed quantity=%s bidder=%s", p.ExecutionQuantity, p.Bidder.Hex())
		for _, tr := range p.Transfers {
			log.Printf("[flow] executed token=%s send=%s receive=%s", tr.Address.Hex(), tr.Inflow, tr.Outflow)
		}
		ev.Executed = append(ev.Executed, p.Transfers...)
	}
	rebalance.LogEvent(bidLog, ev)
	return nil
}

func printPlan(plan *rebalance.Plan, cTokens []common.Address) {
	s := plan.SetUp
	log.Printf("[auction] price=%s elapsed=%ds min_bid=%s natural_unit=%s", s.Price, s.Elapsed, s.MinimumBid, s.Combined.NaturalUnit)
	log.Printf("[bid] quantity=%s max=%s", plan.BidQuantity, plan.MaxQuantity)
	for _, tr := range plan.Transfers {
		log.Printf("[flow] token=%s send=%s receive=%s", tr.Address.Hex(), tr.Inflow, tr.Outflow)
	}
	if plan.Underlying == nil {
		return
	}
	log.Printf("[underlying] ctokens=%s", ethutil.JoinHex(cTokens))
	for i := range plan.Underlying.Inflows {
		in := plan.Underlying.Inflows[i]
		out := plan.Underlying.Outflows[i]
		log.Printf("[underlying] token=%s send=%s receive=%s", in.Address.Hex(), in.Unit, out.Unit)
	}
}

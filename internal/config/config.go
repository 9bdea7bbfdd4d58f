package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/ethutil"
	"set-gorebalance/internal/fixedpoint"
)

const (
	defaultCallTimeout = 8 * time.Second
	defaultWaitTimeout = 3 * time.Minute
	gweiDecimals       = 9
)

// Config is the environment-derived settings shared by the binaries. Flags
// override individual fields after Load.
type Config struct {
	RPCURL         string
	RebalancingSet common.Address
	AuctionModule  common.Address
	CTokens        []common.Address

	PrivateKey *ecdsa.PrivateKey
	Signer     common.Address
	EnableBids bool

	Tx          chain.TxOptions
	CallTimeout time.Duration

	BidLogPath   string
	SnapshotPath string
}

// FromEnv is Load over the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load reads settings through getenv. Only malformed values are errors;
// required-ness is checked by Require* at the point of use.
func Load(getenv func(string) string) (Config, error) {
	var cfg Config
	env := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}

	cfg.RPCURL = env("RPC_URL", "RPC_WS_URL")

	if v := env("REBALANCING_SET"); v != "" {
		addr, err := ethutil.ParseAddress("REBALANCING_SET", v)
		if err != nil {
			return cfg, err
		}
		cfg.RebalancingSet = addr
	}
	if v := env("AUCTION_MODULE", "REBALANCE_AUCTION_MODULE"); v != "" {
		addr, err := ethutil.ParseAddress("AUCTION_MODULE", v)
		if err != nil {
			return cfg, err
		}
		cfg.AuctionModule = addr
	}
	cTokens, err := ethutil.ParseAddressList(env("CTOKENS"))
	if err != nil {
		return cfg, fmt.Errorf("invalid CTOKENS: %w", err)
	}
	cfg.CTokens = cTokens

	if pkHex := env("PRIVATE_KEY"); pkHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
		if err != nil {
			return cfg, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		cfg.PrivateKey = pk
		cfg.Signer = crypto.PubkeyToAddress(pk.PublicKey)
	}
	if v := env("ENABLE_BIDS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ENABLE_BIDS %q: %w", v, err)
		}
		cfg.EnableBids = b
	}

	if v := env("GAS_PRICE_GWEI"); v != "" {
		wei, err := fixedpoint.ParseUnits(v, gweiDecimals)
		if err != nil {
			return cfg, fmt.Errorf("invalid GAS_PRICE_GWEI: %w", err)
		}
		cfg.Tx.GasPrice = wei
	}
	if v := env("GAS_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid GAS_LIMIT %q: %w", v, err)
		}
		cfg.Tx.GasLimit = n
	}
	cfg.Tx.WaitTimeout = defaultWaitTimeout
	if v := env("TX_WAIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TX_WAIT_TIMEOUT %q: %w", v, err)
		}
		cfg.Tx.WaitTimeout = d
	}
	cfg.CallTimeout = defaultCallTimeout
	if v := env("CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid CALL_TIMEOUT %q: %w", v, err)
		}
		cfg.CallTimeout = d
	}

	cfg.BidLogPath = env("BID_LOG_PATH")
	cfg.SnapshotPath = env("SNAPSHOT_PATH")
	return cfg, nil
}

// RequireRPCURL validates the RPC endpoint.
func (c Config) RequireRPCURL() (string, error) {
	rpcURL := strings.TrimSpace(c.RPCURL)
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_URL or RPC_WS_URL required (set it in .env)")
	}
	if !strings.HasPrefix(rpcURL, "ws") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("RPC URL must be ws(s)://... or http(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("RPC URL still contains placeholder YOUR_KEY")
	}
	return rpcURL, nil
}

func (c Config) RequireRebalancingSet() (common.Address, error) {
	if (c.RebalancingSet == common.Address{}) {
		return common.Address{}, fmt.Errorf("rebalancing set required (set REBALANCING_SET or --set)")
	}
	return c.RebalancingSet, nil
}

// RequireBidding checks everything a live bid needs.
func (c Config) RequireBidding() error {
	if c.PrivateKey == nil {
		return fmt.Errorf("private key required to submit bids (set PRIVATE_KEY)")
	}
	if (c.AuctionModule == common.Address{}) {
		return fmt.Errorf("auction module required to submit bids (set AUCTION_MODULE)")
	}
	return nil
}

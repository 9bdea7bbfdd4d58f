package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments for the contracts the kit reads from and submits to. Only
// the methods used here are listed.
const (
	setTokenABIJSON = `[
  {"inputs":[],"name":"getComponents","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getUnits","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"naturalUnit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	rebalancingSetABIJSON = `[
  {"inputs":[],"name":"currentSet","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"nextSet","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"auctionLibrary","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"vault","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"rebalanceState","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"naturalUnit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"unitShares","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAuctionParameters","outputs":[{"internalType":"uint256[4]","name":"","type":"uint256[4]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getBiddingParameters","outputs":[{"internalType":"uint256[2]","name":"","type":"uint256[2]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getCombinedTokenArray","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getCombinedCurrentUnits","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getCombinedNextSetUnits","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_nextSet","type":"address"},
    {"internalType":"address","name":"_auctionLibrary","type":"address"},
    {"internalType":"uint256","name":"_auctionTimeToPivot","type":"uint256"},
    {"internalType":"uint256","name":"_auctionStartPrice","type":"uint256"},
    {"internalType":"uint256","name":"_auctionPivotPrice","type":"uint256"}
  ],"name":"propose","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"startRebalance","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"settleRebalance","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"endFailedAuction","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	priceCurveABIJSON = `[
  {"inputs":[],"name":"priceDivisor","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	auctionModuleABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"_rebalancingSetToken","type":"address"},
    {"internalType":"uint256","name":"_quantity","type":"uint256"},
    {"internalType":"bool","name":"_allowPartialFill","type":"bool"}
  ],"name":"bid","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_rebalancingSetToken","type":"address"},
    {"internalType":"uint256","name":"_quantity","type":"uint256"},
    {"internalType":"bool","name":"_allowPartialFill","type":"bool"}
  ],"name":"bidAndWithdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"rebalancingSetToken","type":"address"},
    {"indexed":true,"internalType":"address","name":"bidder","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"executionQuantity","type":"uint256"},
    {"indexed":false,"internalType":"address[]","name":"combinedTokenAddresses","type":"address[]"},
    {"indexed":false,"internalType":"uint256[]","name":"inflowTokenUnits","type":"uint256[]"},
    {"indexed":false,"internalType":"uint256[]","name":"outflowTokenUnits","type":"uint256[]"}
  ],"name":"BidPlaced","type":"event"}
]`

	vaultABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"_token","type":"address"},
    {"internalType":"address","name":"_owner","type":"address"}
  ],"name":"getOwnerBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	cTokenABIJSON = `[
  {"inputs":[],"name":"exchangeRateStored","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"underlying","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

	erc20ABIJSON = `[
  {"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`
)

var (
	setTokenABI       = mustParseABI("set token", setTokenABIJSON)
	rebalancingSetABI = mustParseABI("rebalancing set", rebalancingSetABIJSON)
	priceCurveABI     = mustParseABI("price curve", priceCurveABIJSON)
	auctionModuleABI  = mustParseABI("auction module", auctionModuleABIJSON)
	vaultABI          = mustParseABI("vault", vaultABIJSON)
	cTokenABI         = mustParseABI("ctoken", cTokenABIJSON)
	erc20ABI          = mustParseABI("erc20", erc20ABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("%s abi parse: %v", name, err))
	}
	return parsed
}

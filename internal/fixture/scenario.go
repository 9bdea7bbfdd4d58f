package fixture

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/fixedpoint"
	"set-gorebalance/internal/underlying"
	"set-gorebalance/internal/unitshares"
)

// Amount is an integer written in YAML as a number or a string. Underscores
// are allowed as digit separators.
type Amount struct {
	*big.Int
}

func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", value.Line)
	}
	x, ok := new(big.Int).SetString(strings.ReplaceAll(strings.TrimSpace(value.Value), "_", ""), 10)
	if !ok {
		return fmt.Errorf("line %d: invalid amount %q", value.Line, value.Value)
	}
	a.Int = x
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	if a.Int == nil {
		return nil, nil
	}
	return a.String(), nil
}

// Big returns the value or nil when the field was omitted.
func (a *Amount) Big() *big.Int {
	if a == nil || a.Int == nil {
		return nil
	}
	return new(big.Int).Set(a.Int)
}

// Rate is a decimal exchange rate ("0.02") stored scaled by 1e18.
type Rate struct {
	*big.Int
}

func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: rate must be a scalar", value.Line)
	}
	x, err := fixedpoint.ParseUnits(value.Value, fixedpoint.WeiDecimals)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	r.Int = x
	return nil
}

type Component struct {
	Address common.Address `yaml:"address"`
	Unit    Amount         `yaml:"unit"`
}

type Basket struct {
	NaturalUnit Amount      `yaml:"natural_unit"`
	Components  []Component `yaml:"components"`
}

func (b *Basket) TokenBasket() basket.TokenBasket {
	if b == nil {
		return basket.TokenBasket{}
	}
	out := basket.TokenBasket{NaturalUnit: b.NaturalUnit.Big()}
	for _, c := range b.Components {
		out.Components = append(out.Components, basket.Component{Address: c.Address, Unit: c.Unit.Big()})
	}
	return out
}

type Auction struct {
	StartTime        uint64 `yaml:"start_time"`
	TimeToPivot      uint64 `yaml:"time_to_pivot"`
	StartPrice       Amount `yaml:"start_price"`
	PivotPrice       Amount `yaml:"pivot_price"`
	PriceDenominator Amount `yaml:"price_denominator"`
}

func (a *Auction) Parameters() auction.Parameters {
	if a == nil {
		return auction.Parameters{}
	}
	return auction.Parameters{
		StartTime:        a.StartTime,
		TimeToPivot:      a.TimeToPivot,
		StartPrice:       a.StartPrice.Big(),
		PivotPrice:       a.PivotPrice.Big(),
		PriceDenominator: a.PriceDenominator.Big(),
	}
}

// SetUpExpect lists expectations on the combined basket and auction set-up.
// Omitted fields are not checked.
type SetUpExpect struct {
	TokenArray     []common.Address `yaml:"token_array"`
	CurrentUnits   []Amount         `yaml:"current_units"`
	NextUnits      []Amount         `yaml:"next_units"`
	NaturalUnit    *Amount          `yaml:"natural_unit"`
	MinimumBid     *Amount          `yaml:"minimum_bid"`
	PriceNumerator *Amount          `yaml:"price_numerator"`
	Error          string           `yaml:"error"`
}

// BidCase is one bid against the scenario's auction. PriceNumerator
// overrides the price derived from the auction parameters.
type BidCase struct {
	Quantity       Amount   `yaml:"quantity"`
	PriceNumerator *Amount  `yaml:"price_numerator"`
	Remaining      *Amount  `yaml:"remaining"`
	Inflow         []Amount `yaml:"inflow"`
	Outflow        []Amount `yaml:"outflow"`

	UnderlyingTokens  []common.Address `yaml:"underlying_tokens"`
	UnderlyingInflow  []Amount         `yaml:"underlying_inflow"`
	UnderlyingOutflow []Amount         `yaml:"underlying_outflow"`

	Error string `yaml:"error"`
}

type Wrapper struct {
	CToken     common.Address `yaml:"ctoken"`
	Underlying common.Address `yaml:"underlying"`
	Rate       Rate           `yaml:"rate"`
}

type Balance struct {
	Address common.Address `yaml:"address"`
	Amount  Amount         `yaml:"amount"`
}

type UnitSharesCase struct {
	Balances    []Balance `yaml:"balances"`
	Supply      Amount    `yaml:"supply"`
	NaturalUnit Amount    `yaml:"natural_unit"`
	Want        *Amount   `yaml:"want"`
	Error       string    `yaml:"error"`
}

// Scenario is a self-contained description of an auction and the results
// the math must produce for it. When Snapshot is set, baskets, auction
// parameters and elapsed time come from that saved snapshot instead.
type Scenario struct {
	Name     string   `yaml:"name"`
	Snapshot string   `yaml:"snapshot"`
	Current  *Basket  `yaml:"current"`
	Next     *Basket  `yaml:"next"`
	Auction  *Auction `yaml:"auction"`
	Elapsed  uint64   `yaml:"elapsed"`

	Expect     *SetUpExpect    `yaml:"expect"`
	Bids       []BidCase       `yaml:"bids"`
	Wrappers   []Wrapper       `yaml:"wrappers"`
	UnitShares *UnitSharesCase `yaml:"unit_shares"`

	dir string
}

// File is the top-level document of a scenario file.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load reads and decodes one scenario file. Unknown keys are rejected.
func Load(path string) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc File
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, fmt.Errorf("%s: no scenarios", path)
	}
	dir := filepath.Dir(path)
	for i := range doc.Scenarios {
		doc.Scenarios[i].dir = dir
		if strings.TrimSpace(doc.Scenarios[i].Name) == "" {
			doc.Scenarios[i].Name = fmt.Sprintf("%s#%d", filepath.Base(path), i)
		}
	}
	return doc.Scenarios, nil
}

// LoadDir loads every *.yaml file in dir, in name order.
func LoadDir(dir string) ([]Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []Scenario
	for _, p := range paths {
		scenarios, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, scenarios...)
	}
	return out, nil
}

// Mismatch is one failed check.
type Mismatch struct {
	Scenario string
	Check    string
	Got      string
	Want     string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s: got %s, want %s", m.Scenario, m.Check, m.Got, m.Want)
}

var namedErrors = map[string]error{
	"invalid_basket":              basket.ErrInvalidBasket,
	"invalid_bid":                 bid.ErrInvalidBid,
	"insufficient_remaining_sets": bid.ErrInsufficientRemainingSets,
	"auction_not_started":         auction.ErrAuctionNotStarted,
	"invalid_parameters":          auction.ErrInvalidParameters,
	"zero_supply":                 unitshares.ErrZeroSupply,
	"length_mismatch":             underlying.ErrLengthMismatch,
	"missing_exchange_rate":       underlying.ErrMissingExchangeRate,
}

type run struct {
	name       string
	mismatches []Mismatch
}

func (r *run) fail(check, got, want string) {
	r.mismatches = append(r.mismatches, Mismatch{Scenario: r.name, Check: check, Got: got, Want: want})
}

// checkErr compares err with an expected error name. It reports whether the
// case should continue to value checks.
func (r *run) checkErr(check string, err error, want string) (bool, error) {
	if want == "" {
		if err != nil {
			r.fail(check, err.Error(), "no error")
		}
		return err == nil, nil
	}
	target, ok := namedErrors[want]
	if !ok {
		return false, fmt.Errorf("%s: %s: unknown error name %q", r.name, check, want)
	}
	if !errors.Is(err, target) {
		got := "no error"
		if err != nil {
			got = err.Error()
		}
		r.fail(check, got, want)
	}
	return false, nil
}

func (r *run) checkInts(check string, got []*big.Int, want []Amount) {
	if want == nil {
		return
	}
	ok := len(got) == len(want)
	for i := 0; ok && i < len(got); i++ {
		ok = want[i].Int != nil && got[i] != nil && got[i].Cmp(want[i].Int) == 0
	}
	if !ok {
		r.fail(check, formatInts(got), formatAmounts(want))
	}
}

func (r *run) checkInt(check string, got *big.Int, want *Amount) {
	if want == nil || want.Int == nil {
		return
	}
	if got == nil || got.Cmp(want.Int) != 0 {
		r.fail(check, fmt.Sprint(got), want.String())
	}
}

func (r *run) checkAddresses(check string, got, want []common.Address) {
	if want == nil {
		return
	}
	ok := len(got) == len(want)
	for i := 0; ok && i < len(got); i++ {
		ok = got[i] == want[i]
	}
	if !ok {
		r.fail(check, fmt.Sprint(got), fmt.Sprint(want))
	}
}

// Run evaluates the scenario and returns every failed check. The error is
// reserved for scenarios that cannot be evaluated at all.
func (s *Scenario) Run() ([]Mismatch, error) {
	r := &run{name: s.Name}

	current, next, params, elapsed, err := s.inputs()
	if err != nil {
		return nil, err
	}

	combined, err := basket.Combine(current, next)
	var wantSetUpErr string
	if s.Expect != nil {
		wantSetUpErr = s.Expect.Error
	}
	var (
		minBid *big.Int
		price  auction.Price
	)
	if err == nil {
		minBid, err = auction.MinimumBid(params, combined.NaturalUnit)
	}
	if err == nil {
		price, err = auction.PriceAt(params, elapsed)
	}
	ok, cfgErr := r.checkErr("set up", err, wantSetUpErr)
	if cfgErr != nil {
		return nil, cfgErr
	}
	if !ok {
		return r.mismatches, nil
	}

	if e := s.Expect; e != nil {
		r.checkAddresses("token array", combined.TokenArray, e.TokenArray)
		r.checkInts("current units", combined.CurrentUnits, e.CurrentUnits)
		r.checkInts("next units", combined.NextUnits, e.NextUnits)
		r.checkInt("natural unit", combined.NaturalUnit, e.NaturalUnit)
		r.checkInt("minimum bid", minBid, e.MinimumBid)
		r.checkInt("price numerator", price.Numerator, e.PriceNumerator)
	}

	wrappers := s.wrappers()
	for i, bc := range s.Bids {
		if err := r.runBid(fmt.Sprintf("bid[%d]", i), bc, combined, price, minBid, wrappers); err != nil {
			return nil, err
		}
	}

	if us := s.UnitShares; us != nil {
		balances := make(map[common.Address]*big.Int, len(us.Balances))
		for _, b := range us.Balances {
			balances[b.Address] = b.Amount.Big()
		}
		got, err := unitshares.Project(next, balances, us.Supply.Big(), us.NaturalUnit.Big())
		ok, cfgErr := r.checkErr("unit shares", err, us.Error)
		if cfgErr != nil {
			return nil, cfgErr
		}
		if ok {
			r.checkInt("unit shares", got, us.Want)
		}
	}
	return r.mismatches, nil
}

func (r *run) runBid(check string, bc BidCase, combined *basket.Combined, price auction.Price, minBid *big.Int, w underlying.Wrappers) error {
	num := price.Numerator
	if bc.PriceNumerator != nil {
		num = bc.PriceNumerator.Big()
	}

	var (
		flows *bid.TokenFlow
		err   error
	)
	if bc.Remaining != nil {
		flows, err = bid.ComputeFlowsWithRemaining(combined, bc.Quantity.Big(), num, price.Denominator, minBid, bc.Remaining.Big())
	} else {
		flows, err = bid.ComputeFlows(combined, bc.Quantity.Big(), num, price.Denominator, minBid)
	}
	ok, cfgErr := r.checkErr(check, err, bc.Error)
	if cfgErr != nil || !ok {
		return cfgErr
	}
	if err := flows.Validate(combined.Len()); err != nil {
		r.fail(check+" exclusivity", err.Error(), "one-sided flows")
	}
	r.checkInts(check+" inflow", flows.Inflow, bc.Inflow)
	r.checkInts(check+" outflow", flows.Outflow, bc.Outflow)

	if bc.UnderlyingTokens == nil && bc.UnderlyingInflow == nil && bc.UnderlyingOutflow == nil {
		return nil
	}
	res, err := underlying.Remap(flows, combined.TokenArray, w)
	if err != nil {
		r.fail(check+" underlying", err.Error(), "no error")
		return nil
	}
	r.checkAddresses(check+" underlying tokens", res.TokenArray, bc.UnderlyingTokens)
	r.checkInts(check+" underlying inflow", res.Flow.Inflow, bc.UnderlyingInflow)
	r.checkInts(check+" underlying outflow", res.Flow.Outflow, bc.UnderlyingOutflow)
	return nil
}

func (s *Scenario) inputs() (basket.TokenBasket, basket.TokenBasket, auction.Parameters, uint64, error) {
	if strings.TrimSpace(s.Snapshot) == "" {
		return s.Current.TokenBasket(), s.Next.TokenBasket(), s.Auction.Parameters(), s.Elapsed, nil
	}

	path := s.Snapshot
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	snap, found, err := LoadSnapshot(path)
	if err != nil {
		return basket.TokenBasket{}, basket.TokenBasket{}, auction.Parameters{}, 0, fmt.Errorf("%s: %w", s.Name, err)
	}
	if !found {
		return basket.TokenBasket{}, basket.TokenBasket{}, auction.Parameters{}, 0, fmt.Errorf("%s: snapshot %s not found", s.Name, path)
	}
	elapsed := s.Elapsed
	if snap.BlockTime >= snap.Auction.StartTime {
		elapsed = snap.BlockTime - snap.Auction.StartTime
	}
	return snap.Current, snap.Next, snap.Auction, elapsed, nil
}

func (s *Scenario) wrappers() underlying.Wrappers {
	w := underlying.Wrappers{
		Underlying:    make(map[common.Address]common.Address, len(s.Wrappers)),
		ExchangeRates: make(map[common.Address]*big.Int, len(s.Wrappers)),
	}
	for _, x := range s.Wrappers {
		w.Underlying[x.CToken] = x.Underlying
		if x.Rate.Int != nil {
			w.ExchangeRates[x.CToken] = x.Rate.Int
		}
	}
	return w
}

func formatInts(xs []*big.Int) string {
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		parts = append(parts, fmt.Sprint(x))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatAmounts(xs []Amount) string {
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		parts = append(parts, fmt.Sprint(x.Int))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

package threat

import (
	"context"
	"hash/fnv"
	"time"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/rpc"
)

// AccountInspector is the narrow set of on-chain reads the built-in risk,
// technical, and market heuristics need: mint authority flags, extension
// and metadata shape, pool liquidity, and trade-flow statistics.
// Implementations dispatch through the RPC failover pool the same way
// rpc.Client.LatestBlockhash does; the actual JSON-RPC decode is a
// transport seam (grounded on rpc.fetchBlockhash's documented-stub
// idiom) until a concrete chain RPC library is wired into this module.
type AccountInspector interface {
	CreatorAddress(ctx context.Context, mint string) (string, error)
	MintAuthorityPresent(ctx context.Context, mint string) (bool, error)
	FreezeAuthorityPresent(ctx context.Context, mint string) (bool, error)
	MetadataMutable(ctx context.Context, mint string) (bool, error)
	PermanentDelegatePresent(ctx context.Context, mint string) (bool, error)
	TransferHookPresent(ctx context.Context, mint string) (bool, error)
	UpgradeAuthorityRenounced(ctx context.Context, mint string) (bool, error)
	HoneypotProbe(ctx context.Context, mint string) (sellable bool, effectiveTaxPct float64, err error)
	TopHolderConcentration(ctx context.Context, mint string) (top10Pct float64, err error)
	DevWalletHoldingPct(ctx context.Context, mint string) (float64, error)
	LiquidityLockStatus(ctx context.Context, mint string) (locked bool, unlockAt time.Time, err error)
	WashTradingCycleCount(ctx context.Context, mint string) (int, error)
	CoordinatedBuyingScore(ctx context.Context, mint string) (float64, error)

	ProgramOwner(ctx context.Context, mint string) (string, error)
	Extensions(ctx context.Context, mint string) ([]string, error)
	MetadataSymbolAndName(ctx context.Context, mint string) (symbol, name string, err error)
	MetadataURI(ctx context.Context, mint string) (uri string, reachable bool, err error)
	MetadataMimeType(ctx context.Context, mint string) (string, error)
	BondingCurvePrices(ctx context.Context, mint string) (expected, observed float64, err error)
	MintDecimals(ctx context.Context, mint string) (int, error)

	LiquidityDepthBase(ctx context.Context, mint string) (float64, error)
	VolumeProfile(ctx context.Context, mint string) (last24hBase, ageNormalizedBaselineBase float64, err error)
	TokenAge(ctx context.Context, mint string) (time.Duration, error)
	HolderCount(ctx context.Context, mint string) (int, error)
	PriceVolatilityBand(ctx context.Context, mint string) (float64, error)
	BuySellRatio(ctx context.Context, mint string) (float64, error)
	UniqueTraderCount(ctx context.Context, mint string) (int, error)
	MarketCapToLiquidityRatio(ctx context.Context, mint string) (float64, error)
	LiquidityGrowthTrend(ctx context.Context, mint string) (float64, error) // fractional change over the last window; negative means draining
}

// knownHostileExtensions is the cross-check set hostile_extension_crosscheck
// tests mint extensions against.
var knownHostileExtensions = map[string]bool{
	"transfer_fee_unbounded":    true,
	"permanent_delegate":        true,
	"confidential_transfer_off": true,
	"pausable_mint":             true,
}

// allExtensions is the universe Extensions draws from to simulate a
// per-mint subset, standing in for the real extension list a live
// getAccountInfo decode would return; extension_enumeration also uses its
// length to normalize the extension count.
var allExtensions = []string{
	"transfer_fee_unbounded", "permanent_delegate", "confidential_transfer_off",
	"pausable_mint", "metadata_pointer", "interest_bearing", "non_transferable",
}

// ChainInspector is the default AccountInspector, dispatching every read
// through the RPC failover pool so inspector calls share the same
// priority budgeting and health-scoring as any other endpoint traffic.
type ChainInspector struct {
	client *rpc.Client
}

// NewChainInspector wraps client as an AccountInspector.
func NewChainInspector(client *rpc.Client) *ChainInspector {
	return &ChainInspector{client: client}
}

// fraction deterministically derives a value in [0,1) from mint and salt,
// standing in for the live account read until a concrete decode exists.
// Using mint+salt (rather than a constant) means distinct mints and
// distinct checks produce distinct, stable readings.
func fraction(mint, salt string) float64 {
	h := fnv.New32a()
	h.Write([]byte(mint))
	h.Write([]byte("|"))
	h.Write([]byte(salt))
	return float64(h.Sum32()%100000) / 100000.0
}

// probe dispatches a synthetic per-mint reading through the RPC pool so
// inspector traffic competes for weight budget like any other low-
// priority background lookup.
func (c *ChainInspector) probe(ctx context.Context, mint, salt string) (float64, error) {
	result, err := c.client.Call(ctx, domain.PriorityLow, 1, func(ctx context.Context, endpointURL string) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		// Transport seam: a live deployment decodes the mint/metadata
		// account fetched from endpointURL here.
		return fraction(mint, salt), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

func (c *ChainInspector) CreatorAddress(ctx context.Context, mint string) (string, error) {
	return "creator-" + mint, nil
}

func (c *ChainInspector) MintAuthorityPresent(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "mint_authority")
	return f < 0.35, err
}

func (c *ChainInspector) FreezeAuthorityPresent(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "freeze_authority")
	return f < 0.25, err
}

func (c *ChainInspector) MetadataMutable(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "metadata_mutable")
	return f < 0.5, err
}

func (c *ChainInspector) PermanentDelegatePresent(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "permanent_delegate")
	return f < 0.1, err
}

func (c *ChainInspector) TransferHookPresent(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "transfer_hook")
	return f < 0.15, err
}

func (c *ChainInspector) UpgradeAuthorityRenounced(ctx context.Context, mint string) (bool, error) {
	f, err := c.probe(ctx, mint, "upgrade_authority_renounced")
	return f > 0.4, err
}

func (c *ChainInspector) HoneypotProbe(ctx context.Context, mint string) (bool, float64, error) {
	f, err := c.probe(ctx, mint, "honeypot_sell_sim")
	if err != nil {
		return false, 0, err
	}
	sellable := f > 0.05
	tax := 0.0
	if sellable {
		tax = f * 0.25
	}
	return sellable, tax, nil
}

func (c *ChainInspector) TopHolderConcentration(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "top10_holder_pct")
	return 0.1 + f*0.8, err
}

func (c *ChainInspector) DevWalletHoldingPct(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "dev_wallet_pct")
	return f * 0.4, err
}

func (c *ChainInspector) LiquidityLockStatus(ctx context.Context, mint string) (bool, time.Time, error) {
	f, err := c.probe(ctx, mint, "liquidity_lock")
	if err != nil {
		return false, time.Time{}, err
	}
	locked := f > 0.4
	var unlockAt time.Time
	if locked {
		unlockAt = time.Now().Add(time.Duration(f*180) * 24 * time.Hour)
	}
	return locked, unlockAt, nil
}

func (c *ChainInspector) WashTradingCycleCount(ctx context.Context, mint string) (int, error) {
	f, err := c.probe(ctx, mint, "wash_trading_cycles")
	return int(f * 6), err
}

func (c *ChainInspector) CoordinatedBuyingScore(ctx context.Context, mint string) (float64, error) {
	return c.probe(ctx, mint, "coordinated_buying")
}

func (c *ChainInspector) ProgramOwner(ctx context.Context, mint string) (string, error) {
	f, err := c.probe(ctx, mint, "program_owner")
	if err != nil {
		return "", err
	}
	if f < 0.9 {
		return "token_program_v1", nil
	}
	return "unknown_program", nil
}

func (c *ChainInspector) Extensions(ctx context.Context, mint string) ([]string, error) {
	f, err := c.probe(ctx, mint, "extensions")
	if err != nil {
		return nil, err
	}
	n := int(f * float64(len(allExtensions)+1))
	if n > len(allExtensions) {
		n = len(allExtensions)
	}
	return append([]string(nil), allExtensions[:n]...), nil
}

func (c *ChainInspector) MetadataSymbolAndName(ctx context.Context, mint string) (string, string, error) {
	f, err := c.probe(ctx, mint, "metadata_symbol_name")
	if err != nil {
		return "", "", err
	}
	if f < 0.05 {
		return "", "", nil // simulated malformed metadata
	}
	nameLen := len(mint)
	if nameLen > 6 {
		nameLen = 6
	}
	return "TOK", "Token " + mint[:nameLen], nil
}

func (c *ChainInspector) MetadataURI(ctx context.Context, mint string) (string, bool, error) {
	f, err := c.probe(ctx, mint, "metadata_uri")
	if err != nil {
		return "", false, err
	}
	return "ipfs://" + mint, f > 0.1, nil
}

func (c *ChainInspector) MetadataMimeType(ctx context.Context, mint string) (string, error) {
	f, err := c.probe(ctx, mint, "metadata_mime")
	if err != nil {
		return "", err
	}
	if f < 0.9 {
		return "image/png", nil
	}
	return "application/octet-stream", nil
}

func (c *ChainInspector) BondingCurvePrices(ctx context.Context, mint string) (float64, float64, error) {
	f, err := c.probe(ctx, mint, "bonding_curve")
	if err != nil {
		return 0, 0, err
	}
	expected := 1.0
	observed := 1.0 + (f-0.5)*0.4
	return expected, observed, nil
}

func (c *ChainInspector) MintDecimals(ctx context.Context, mint string) (int, error) {
	f, err := c.probe(ctx, mint, "mint_decimals")
	if err != nil {
		return 0, err
	}
	if f < 0.95 {
		return 9, nil
	}
	return 0, nil // simulated anomalous zero-decimal mint
}

func (c *ChainInspector) LiquidityDepthBase(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "liquidity_depth")
	return f * 60, err
}

func (c *ChainInspector) VolumeProfile(ctx context.Context, mint string) (float64, float64, error) {
	f, err := c.probe(ctx, mint, "volume_profile")
	if err != nil {
		return 0, 0, err
	}
	baseline := 10.0
	return f * 20, baseline, nil
}

func (c *ChainInspector) TokenAge(ctx context.Context, mint string) (time.Duration, error) {
	f, err := c.probe(ctx, mint, "token_age")
	return time.Duration(f*72) * time.Hour, err
}

func (c *ChainInspector) HolderCount(ctx context.Context, mint string) (int, error) {
	f, err := c.probe(ctx, mint, "holder_count")
	return int(f * 3000), err
}

func (c *ChainInspector) PriceVolatilityBand(ctx context.Context, mint string) (float64, error) {
	return c.probe(ctx, mint, "price_volatility")
}

func (c *ChainInspector) BuySellRatio(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "buy_sell_ratio")
	return f * 3, err
}

func (c *ChainInspector) UniqueTraderCount(ctx context.Context, mint string) (int, error) {
	f, err := c.probe(ctx, mint, "unique_traders")
	return int(f * 800), err
}

func (c *ChainInspector) MarketCapToLiquidityRatio(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "mcap_to_liquidity")
	return f * 25, err
}

func (c *ChainInspector) LiquidityGrowthTrend(ctx context.Context, mint string) (float64, error) {
	f, err := c.probe(ctx, mint, "liquidity_growth")
	return (f - 0.5) * 2, err // in [-1, 1); negative means draining
}

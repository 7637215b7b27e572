package threat

import "context"

// CreatorReputationLookup scores a creator wallet's historical launch
// record; implemented in production by a thin adapter over
// internal/storage/postgres's creator_reputation table.
type CreatorReputationLookup interface {
	CreatorRiskScore(ctx context.Context, creator string) (float64, error)
}

// BuildHeuristics assembles the full named heuristic set the composite
// threat score fuses over: the risk-bucket on-chain authority/holder/
// creator/manipulation checks, the technical-bucket program/metadata/
// bonding-curve checks, and the market-bucket liquidity/volume/age
// checks, plus the two opaque external scorers (ML risk model, social
// signal feed) the spec carries forward as Non-goals. Every built-in entry
// is a FuncHeuristic closing over AccountInspector/CreatorReputationLookup,
// so adding a check means adding one entry to this slice, not a new type.
func BuildHeuristics(inspector AccountInspector, reputation CreatorReputationLookup, ml MLScorer, social SocialSignalFeed) []Heuristic {
	out := []Heuristic{
		riskHeuristic("honeypot_probe", func(ctx context.Context, mint string) (float64, error) {
			sellable, tax, err := inspector.HoneypotProbe(ctx, mint)
			if err != nil {
				return 0, err
			}
			if !sellable {
				return 1.0, nil
			}
			return clamp01(tax / 0.25), nil
		}),
		riskHeuristic("mint_authority_present", boolRisk(inspector.MintAuthorityPresent)),
		riskHeuristic("freeze_authority_present", boolRisk(inspector.FreezeAuthorityPresent)),
		riskHeuristic("metadata_mutable", boolRisk(inspector.MetadataMutable)),
		riskHeuristic("permanent_delegate_present", boolRisk(inspector.PermanentDelegatePresent)),
		riskHeuristic("transfer_hook_present", boolRisk(inspector.TransferHookPresent)),
		riskHeuristic("ownership_not_renounced", func(ctx context.Context, mint string) (float64, error) {
			renounced, err := inspector.UpgradeAuthorityRenounced(ctx, mint)
			if err != nil {
				return 0, err
			}
			if renounced {
				return 0, nil
			}
			return 1.0, nil
		}),
		riskHeuristic("holder_concentration_top10", func(ctx context.Context, mint string) (float64, error) {
			pct, err := inspector.TopHolderConcentration(ctx, mint)
			return clamp01((pct - 0.2) / 0.6), err // 20% is benign, 80%+ saturates
		}),
		riskHeuristic("dev_wallet_holding", func(ctx context.Context, mint string) (float64, error) {
			pct, err := inspector.DevWalletHoldingPct(ctx, mint)
			return clamp01(pct / 0.2), err
		}),
		riskHeuristic("liquidity_lock_status", func(ctx context.Context, mint string) (float64, error) {
			locked, _, err := inspector.LiquidityLockStatus(ctx, mint)
			if err != nil {
				return 0, err
			}
			if locked {
				return 0, nil
			}
			return 1.0, nil
		}),
		riskHeuristic("creator_reputation", func(ctx context.Context, mint string) (float64, error) {
			creator, err := inspector.CreatorAddress(ctx, mint)
			if err != nil {
				return 0, err
			}
			return reputation.CreatorRiskScore(ctx, creator)
		}),
		riskHeuristic("wash_trading_cycles", func(ctx context.Context, mint string) (float64, error) {
			n, err := inspector.WashTradingCycleCount(ctx, mint)
			return clamp01(float64(n) / 5.0), err
		}),
		riskHeuristic("coordinated_buying", inspector.CoordinatedBuyingScore),

		technicalHeuristic("program_owner_check", func(ctx context.Context, mint string) (float64, error) {
			owner, err := inspector.ProgramOwner(ctx, mint)
			if err != nil {
				return 0, err
			}
			if owner == "token_program_v1" {
				return 0, nil
			}
			return 1.0, nil
		}),
		technicalHeuristic("extension_enumeration", func(ctx context.Context, mint string) (float64, error) {
			ext, err := inspector.Extensions(ctx, mint)
			if err != nil {
				return 0, err
			}
			return clamp01(float64(len(ext)) / float64(len(allExtensions))), nil
		}),
		technicalHeuristic("hostile_extension_crosscheck", func(ctx context.Context, mint string) (float64, error) {
			ext, err := inspector.Extensions(ctx, mint)
			if err != nil {
				return 0, err
			}
			hostile := 0
			for _, e := range ext {
				if knownHostileExtensions[e] {
					hostile++
				}
			}
			if hostile == 0 {
				return 0, nil
			}
			return clamp01(float64(hostile) / float64(len(knownHostileExtensions))), nil
		}),
		technicalHeuristic("metadata_symbol_name_sanity", func(ctx context.Context, mint string) (float64, error) {
			symbol, name, err := inspector.MetadataSymbolAndName(ctx, mint)
			if err != nil {
				return 0, err
			}
			if symbol == "" || name == "" {
				return 1.0, nil
			}
			return 0, nil
		}),
		technicalHeuristic("metadata_uri_reachability", func(ctx context.Context, mint string) (float64, error) {
			_, reachable, err := inspector.MetadataURI(ctx, mint)
			if err != nil {
				return 0, err
			}
			if reachable {
				return 0, nil
			}
			return 1.0, nil
		}),
		technicalHeuristic("metadata_mime_type_sanity", func(ctx context.Context, mint string) (float64, error) {
			mime, err := inspector.MetadataMimeType(ctx, mint)
			if err != nil {
				return 0, err
			}
			switch mime {
			case "image/png", "image/jpeg", "image/gif", "image/webp":
				return 0, nil
			default:
				return 1.0, nil
			}
		}),
		technicalHeuristic("bonding_curve_sanity", func(ctx context.Context, mint string) (float64, error) {
			expected, observed, err := inspector.BondingCurvePrices(ctx, mint)
			if err != nil || expected == 0 {
				return 0, err
			}
			deviation := (observed - expected) / expected
			if deviation < 0 {
				deviation = -deviation
			}
			return clamp01(deviation / 0.3), nil
		}),
		technicalHeuristic("mint_decimals_sanity", func(ctx context.Context, mint string) (float64, error) {
			decimals, err := inspector.MintDecimals(ctx, mint)
			if err != nil {
				return 0, err
			}
			if decimals >= 6 && decimals <= 9 {
				return 0, nil
			}
			return 1.0, nil
		}),

		marketHeuristic("liquidity_depth", func(ctx context.Context, mint string) (float64, error) {
			depth, err := inspector.LiquidityDepthBase(ctx, mint)
			return clamp01(1 - depth/20.0), err // below 20 base units of depth starts reading as thin
		}),
		marketHeuristic("volume_profile", func(ctx context.Context, mint string) (float64, error) {
			last24h, baseline, err := inspector.VolumeProfile(ctx, mint)
			if err != nil || baseline == 0 {
				return 0, err
			}
			ratio := last24h / baseline
			if ratio >= 0.5 {
				return 0, nil
			}
			return clamp01(1 - ratio*2), nil
		}),
		marketHeuristic("age_maturity", func(ctx context.Context, mint string) (float64, error) {
			age, err := inspector.TokenAge(ctx, mint)
			if err != nil {
				return 0, err
			}
			hours := age.Hours()
			if hours >= 24 {
				return 0, nil
			}
			return clamp01(1 - hours/24.0), nil
		}),
		marketHeuristic("holder_count", func(ctx context.Context, mint string) (float64, error) {
			n, err := inspector.HolderCount(ctx, mint)
			if err != nil {
				return 0, err
			}
			if n >= 200 {
				return 0, nil
			}
			return clamp01(1 - float64(n)/200.0), nil
		}),
		marketHeuristic("price_volatility_band", inspector.PriceVolatilityBand),
		marketHeuristic("buy_sell_ratio", func(ctx context.Context, mint string) (float64, error) {
			ratio, err := inspector.BuySellRatio(ctx, mint)
			if err != nil {
				return 0, err
			}
			// a heavily lopsided ratio in either direction reads as
			// manipulated flow rather than organic two-sided trading
			deviation := ratio - 1.0
			if deviation < 0 {
				deviation = -deviation
			}
			return clamp01(deviation / 2.0), nil
		}),
		marketHeuristic("unique_trader_count", func(ctx context.Context, mint string) (float64, error) {
			n, err := inspector.UniqueTraderCount(ctx, mint)
			if err != nil {
				return 0, err
			}
			if n >= 50 {
				return 0, nil
			}
			return clamp01(1 - float64(n)/50.0), nil
		}),
		marketHeuristic("market_cap_to_liquidity_ratio", func(ctx context.Context, mint string) (float64, error) {
			ratio, err := inspector.MarketCapToLiquidityRatio(ctx, mint)
			return clamp01(ratio / 20.0), err
		}),
		marketHeuristic("liquidity_growth_trend", func(ctx context.Context, mint string) (float64, error) {
			trend, err := inspector.LiquidityGrowthTrend(ctx, mint)
			if trend >= 0 {
				return 0, err
			}
			return clamp01(-trend), err
		}),
	}

	if ml != nil {
		out = append(out, NewMLHeuristic("ml_risk", ml))
	}
	if social != nil {
		out = append(out, NewSocialHeuristic("social_market", social))
	}
	return out
}

func riskHeuristic(name string, fn func(context.Context, string) (float64, error)) Heuristic {
	return &FuncHeuristic{HeuristicName: name, HeuristicBucket: BucketRisk, Fn: fn}
}

func technicalHeuristic(name string, fn func(context.Context, string) (float64, error)) Heuristic {
	return &FuncHeuristic{HeuristicName: name, HeuristicBucket: BucketTechnical, Fn: fn}
}

func marketHeuristic(name string, fn func(context.Context, string) (float64, error)) Heuristic {
	return &FuncHeuristic{HeuristicName: name, HeuristicBucket: BucketMarket, Fn: fn}
}

// boolRisk adapts a boolean on-chain check (true means the risky
// condition is present) into a 0/1 heuristic score.
func boolRisk(check func(context.Context, string) (bool, error)) func(context.Context, string) (float64, error) {
	return func(ctx context.Context, mint string) (float64, error) {
		present, err := check(ctx, mint)
		if err != nil {
			return 0, err
		}
		if present {
			return 1.0, nil
		}
		return 0, nil
	}
}

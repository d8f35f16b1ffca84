package features

// SchemaVersion identifies the feature key set agreed between the extractor and its consumers.
// Bump it whenever a key is added, removed or changes meaning.
const SchemaVersion = 1

// Feature keys. Every key of an enabled family is always present in a non-empty vector.
const (
	// price
	Return1         = "return_1"
	PriceVsSMA5     = "price_vs_sma_5"
	PriceVsSMA10    = "price_vs_sma_10"
	PriceVsSMA20    = "price_vs_sma_20"
	PriceVsSMA50    = "price_vs_sma_50"
	Momentum5       = "momentum_5"
	Momentum10      = "momentum_10"
	Momentum20      = "momentum_20"
	TrendStrength   = "trend_strength"
	RangePosition20 = "range_position_20"
	Range20         = "range_20"
	DistFromHigh20  = "dist_from_high_20"
	DistFromLow20   = "dist_from_low_20"

	// volume
	VolumeRatio5     = "volume_ratio_5"
	VolumeRatio20    = "volume_ratio_20"
	VolumeTrend      = "volume_trend"
	PriceVolumeScore = "price_volume_score"

	// technical
	RSI14            = "rsi_14"
	RSIOverbought    = "rsi_overbought"
	RSIOversold      = "rsi_oversold"
	MACD             = "macd"
	MACDSignal       = "macd_signal"
	MACDHistogram    = "macd_histogram"
	MACDBullishCross = "macd_bullish_cross"
	BBPosition       = "bb_position"
	BBWidth          = "bb_width"
	StochK           = "stoch_k"
	StochD           = "stoch_d"
	StochOverbought  = "stoch_overbought"
	StochOversold    = "stoch_oversold"

	// statistical
	PriceMean20      = "price_mean_20"
	PriceStd20       = "price_std_20"
	PriceSkew20      = "price_skew_20"
	PriceKurtosis20  = "price_kurtosis_20"
	ReturnMean20     = "return_mean_20"
	ReturnStd20      = "return_std_20"
	ReturnSkew20     = "return_skew_20"
	ReturnKurtosis20 = "return_kurtosis_20"

	// volatility
	Volatility5     = "volatility_5"
	Volatility10    = "volatility_10"
	Volatility20    = "volatility_20"
	AnnualizedVol5  = "annualized_vol_5"
	AnnualizedVol20 = "annualized_vol_20"
	VolatilityRatio = "volatility_ratio"
	IntradayRange   = "intraday_range"

	// microstructure
	BodyRatio        = "body_ratio"
	UpperShadowRatio = "upper_shadow_ratio"
	LowerShadowRatio = "lower_shadow_ratio"
	BodyDirection    = "body_direction"
	ClosePosition    = "close_position"
	OpeningGap       = "opening_gap"
)

// Family groups feature keys that are toggled together.
type Family string

const (
	FamilyPrice          Family = "price"
	FamilyVolume         Family = "volume"
	FamilyTechnical      Family = "technical"
	FamilyStatistical    Family = "statistical"
	FamilyVolatility     Family = "volatility"
	FamilyMicrostructure Family = "microstructure"
)

// AllFamilies lists every family in schema order.
var AllFamilies = []Family{
	FamilyPrice, FamilyVolume, FamilyTechnical, FamilyStatistical, FamilyVolatility, FamilyMicrostructure,
}

var familyKeys = map[Family][]string{
	FamilyPrice: {
		Return1, PriceVsSMA5, PriceVsSMA10, PriceVsSMA20, PriceVsSMA50,
		Momentum5, Momentum10, Momentum20, TrendStrength,
		RangePosition20, Range20, DistFromHigh20, DistFromLow20,
	},
	FamilyVolume: {VolumeRatio5, VolumeRatio20, VolumeTrend, PriceVolumeScore},
	FamilyTechnical: {
		RSI14, RSIOverbought, RSIOversold,
		MACD, MACDSignal, MACDHistogram, MACDBullishCross,
		BBPosition, BBWidth,
		StochK, StochD, StochOverbought, StochOversold,
	},
	FamilyStatistical: {
		PriceMean20, PriceStd20, PriceSkew20, PriceKurtosis20,
		ReturnMean20, ReturnStd20, ReturnSkew20, ReturnKurtosis20,
	},
	FamilyVolatility: {
		Volatility5, Volatility10, Volatility20, AnnualizedVol5, AnnualizedVol20,
		VolatilityRatio, IntradayRange,
	},
	FamilyMicrostructure: {
		BodyRatio, UpperShadowRatio, LowerShadowRatio, BodyDirection, ClosePosition, OpeningGap,
	},
}

// Keys returns the ordered schema for the given families.
func Keys(families ...Family) []string {
	var out []string
	for _, f := range AllFamilies {
		if !containsFamily(families, f) {
			continue
		}
		out = append(out, familyKeys[f]...)
	}
	return out
}

// FamilyKeys returns the keys of a single family.
func FamilyKeys(f Family) []string {
	return append([]string(nil), familyKeys[f]...)
}

func containsFamily(fs []Family, f Family) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

package models

// Model identifiers used in predictions, lifecycle keys and persisted blobs.
const (
	ModelTrend            = "trend"
	ModelMeanReversion    = "mean_reversion"
	ModelVolatilityRegime = "volatility_regime"
	ModelPattern          = "pattern"
	ModelEnsemble         = "ensemble"
	ModelSequence         = "sequence"

	// ModelAll selects every lifecycle-managed model.
	ModelAll = "all"
)

// SpecialistModels lists the specialist identifiers in fusion order.
var SpecialistModels = []string{ModelTrend, ModelMeanReversion, ModelVolatilityRegime, ModelPattern}

package models

// Requests for the HTTP boundary. Defined in domain for consistency and reuse.

type PredictionsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
}

type SignalRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
	Model  string `query:"model" json:"model" default:"ensemble" validate:"oneof=ensemble sequence"`
}

type ModelsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
}

type RetrainRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
	Model  string `query:"model" json:"model" default:"all" validate:"oneof=all ensemble sequence"`
	Bars   int    `query:"bars" json:"bars" default:"600" validate:"gte=60,lte=20000"`
}

type BarsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,symbol"`
	From   string `query:"from" json:"from" validate:"omitempty,bartime"`
	To     string `query:"to" json:"to" validate:"omitempty,bartime"`
	TF     string `query:"tf" json:"tf" default:"1d" validate:"oneof=1m 5m 1h 1d"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=50000"`
}

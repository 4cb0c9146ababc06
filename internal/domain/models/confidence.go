package models

// ConfidenceScore is the model's estimate for a signal.
type ConfidenceScore struct {
	Probability       float64            `json:"probability" msgpack:"probability"`
	ExpectedProfit    float64            `json:"expected_profit" msgpack:"expected_profit"`
	ModelVersion      string             `json:"model_version" msgpack:"model_version"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty" msgpack:"feature_importance"`
}

// Prediction is the raw output of a model invocation.
type Prediction struct {
	Probability    float64 `json:"probability"`
	ExpectedProfit float64 `json:"expected_profit"`
}

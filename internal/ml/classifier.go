package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LogisticClassifier scores a behavior feature vector with a trained
// logistic-regression model. Inference is read-only and safe for concurrent
// use.
type LogisticClassifier struct {
	weights   []float64
	intercept float64
}

// classifierArtifact is the serialized form produced by the training script.
type classifierArtifact struct {
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
	FeatureNames []string  `json:"feature_names,omitempty"`
}

// LoadLogisticClassifier reads a JSON model artifact from disk.
func LoadLogisticClassifier(path string) (*LogisticClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artifact classifierArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if len(artifact.Weights) == 0 {
		return nil, fmt.Errorf("model artifact has no weights")
	}
	if len(artifact.FeatureNames) > 0 && len(artifact.FeatureNames) != len(artifact.Weights) {
		return nil, fmt.Errorf("model artifact: %d feature names for %d weights",
			len(artifact.FeatureNames), len(artifact.Weights))
	}

	return &LogisticClassifier{
		weights:   artifact.Weights,
		intercept: artifact.Intercept,
	}, nil
}

// Predict returns P(suspicious) in [0, 1] for a feature vector.
func (c *LogisticClassifier) Predict(features []float64) (float64, error) {
	if len(features) != len(c.weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(c.weights), len(features))
	}
	z := c.intercept
	for i, w := range c.weights {
		z += w * features[i]
	}
	return 1.0 / (1.0 + math.Exp(-z)), nil
}

package predictor

import (
	"context"
	"fmt"
	"time"

	"PredPulse/internal/domain/models"
	drepo "PredPulse/internal/domain/repository"
	phttp "PredPulse/pkg/http"
)

// Client implements a Model backed by an HTTP inference endpoint.
type Client struct {
	url    string
	model  string
	client *phttp.Client
}

// New creates a Model talking to the given inference endpoint.
func New(url, model string, timeout time.Duration) drepo.Model {
	return &Client{
		url:    url,
		model:  model,
		client: phttp.NewClient(phttp.WithTimeout(timeout)),
	}
}

type inferRequest struct {
	Symbol   string             `json:"symbol"`
	Bucket   int64              `json:"bucket"`
	Features map[string]float64 `json:"features"`
	Session  string             `json:"session,omitempty"`
	Context  string             `json:"context,omitempty"`
}

type inferResponse struct {
	Predicted  []float64 `json:"predicted"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
}

// Infer posts the feature vector and decodes the model output. The caller
// owns the deadline; this client never retries on its own.
func (c *Client) Infer(ctx context.Context, f *models.Features) (*models.RawOutput, error) {
	req := &inferRequest{
		Symbol: f.Symbol,
		Bucket: f.Bucket,
		Features: map[string]float64{
			"price":        f.Price,
			"log_volume":   f.LogVolume,
			"momentum":     f.Momentum,
			"price_volume": f.PriceVolume,
		},
		Session: f.Session,
		Context: f.Context,
	}

	var resp inferResponse
	err := c.client.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodPost,
		URL:    c.url,
		Body:   req,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("model infer %s: %w", f.Symbol, err)
	}
	if len(resp.Predicted) == 0 {
		return nil, fmt.Errorf("model infer %s: empty prediction", f.Symbol)
	}

	name := resp.Model
	if name == "" {
		name = c.model
	}
	return &models.RawOutput{
		Predicted:  resp.Predicted,
		Confidence: resp.Confidence,
		ModelName:  name,
	}, nil
}

package pipeline

import (
	"fmt"
	"math"
	"time"

	"PredPulse/internal/domain/models"
)

// ValidateEvent checks the fields the feature transform depends on.
func ValidateEvent(e *models.MarketEvent) error {
	if e == nil {
		return fmt.Errorf("event nil")
	}
	if e.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if e.Price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if e.Volume < 0 {
		return fmt.Errorf("negative volume")
	}
	return nil
}

// ExtractFeatures maps a market event to the model's input representation.
// Pure function of the event: same event, same features, no hidden state.
func ExtractFeatures(e *models.MarketEvent, bucket time.Duration) (*models.Features, error) {
	if err := ValidateEvent(e); err != nil {
		return nil, err
	}

	bucketSec := int64(bucket / time.Second)
	if bucketSec < 1 {
		bucketSec = 1
	}

	logVolume := 0.0
	if e.Volume > 0 {
		logVolume = math.Log1p(e.Volume)
	}

	return &models.Features{
		Symbol:      e.Symbol,
		Bucket:      e.Timestamp - e.Timestamp%bucketSec,
		Price:       e.Price,
		LogVolume:   logVolume,
		Momentum:    e.ChangePct / 100,
		PriceVolume: e.Price * e.Volume,
		Session:     e.Session,
		DerivedAt:   time.Unix(e.Timestamp, 0).UTC(),
	}, nil
}

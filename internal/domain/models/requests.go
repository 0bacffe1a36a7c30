package models

// IngestEventRequest is the HTTP ingest payload. Timestamp accepts RFC3339
// or unix seconds; an empty value means "now".
type IngestEventRequest struct {
	Symbol    string  `json:"symbol" validate:"required,max=16"`
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price" validate:"gt=0"`
	Volume    float64 `json:"volume" validate:"gte=0"`
	ChangePct float64 `json:"change_pct"`
	Session   string  `json:"session" default:"regular" validate:"oneof=regular pre post"`
}

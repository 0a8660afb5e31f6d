package storage

import (
	"time"
)

// LevelRecord is the persisted last-notified level of one metric.
type LevelRecord struct {
	Metric    string
	Level     float64
	UpdatedAt time.Time
}

// EventRecord captures an emitted crossing for auditing and export.
type EventRecord struct {
	ID            string
	Metric        string
	Direction     string
	Level         float64
	PreviousLevel float64
	Value         float64
	Delivered     bool
	DeliveryError *string
	DetectedAt    time.Time
	CreatedAt     time.Time
}

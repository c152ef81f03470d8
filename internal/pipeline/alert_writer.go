package pipeline

import "alertengine/pkg/models"

// EventWriter writes batches of alert lifecycle events.
type EventWriter interface {
	WriteEvents(events []models.AlertEvent) error
	Close() error
}

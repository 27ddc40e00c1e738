package domain

import "time"

// Event is a transient bus message. Payload values are plain strings;
// money and quantities are encoded as decimal strings.
type Event struct {
	Topic     string
	Payload   map[string]string
	Key       string
	Timestamp time.Time
}

// PublishResult reports how many handlers accepted an event.
type PublishResult struct {
	Delivered    int
	Deduplicated bool
}

package analytics

import (
	"encoding/json"
	"time"
)

// Event is one tracked analytics event. Payload keeps the raw client JSON so
// downstream consumers can extract fields the server does not model.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Summary aggregates tracked events plus process health.
type Summary struct {
	TotalEvents     int64            `json:"totalEvents"`
	EventsByType    map[string]int64 `json:"eventsByType"`
	BetaSignups     int64            `json:"betaSignups"`
	MoneySavedTotal float64          `json:"moneySavedTotal"`
	UptimeSeconds   float64          `json:"uptimeSeconds"`
	MemoryRSSBytes  uint64           `json:"memoryRssBytes"`
	CPUPercent      float64          `json:"cpuPercent"`
}

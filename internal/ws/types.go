package ws

import (
	"encoding/json"
	"sort"

	"rankgofer/internal/lookup"
)

// Message types sent to clients
const (
	TypeLoading = "loading"
	TypeRanks   = "ranks"
	TypeError   = "error"
)

// Service is the lookup surface a client needs
type Service interface {
	ResolveMany(items []string) map[string]float64
	AddObserver(obs lookup.Observer) func()
}

// Request is a rank request sent by a client
type Request struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Items []string        `json:"items"`
}

// Message is one outbound frame
type Message struct {
	Type  string             `json:"type"`
	ID    json.RawMessage    `json:"id,omitempty"`
	Items []string           `json:"items,omitempty"`
	Ranks map[string]float64 `json:"ranks,omitempty"`
	Error string             `json:"error,omitempty"`
}

// NewLoadingMessage creates a loading notification with items sorted
func NewLoadingMessage(loading map[string]struct{}) *Message {
	items := make([]string, 0, len(loading))
	for item := range loading {
		items = append(items, item)
	}
	sort.Strings(items)
	return &Message{Type: TypeLoading, Items: items}
}

// NewRanksMessage creates a response to a Request
func NewRanksMessage(id json.RawMessage, ranks map[string]float64) *Message {
	return &Message{Type: TypeRanks, ID: id, Ranks: ranks}
}

// NewErrorMessage creates an error response
func NewErrorMessage(id json.RawMessage, message string) *Message {
	return &Message{Type: TypeError, ID: id, Error: message}
}

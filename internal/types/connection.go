package types

import (
	"strings"
	"time"
)

// ConnectionType tags why two documents are related.
type ConnectionType string

const (
	ConnectionThematic  ConnectionType = "thematic"
	ConnectionTemporal  ConnectionType = "temporal"
	ConnectionProject   ConnectionType = "project"
	ConnectionTechnical ConnectionType = "technical"
	ConnectionPersonal  ConnectionType = "personal"
	ConnectionReference ConnectionType = "reference"
	ConnectionNone      ConnectionType = "none"
)

var connectionTypes = map[ConnectionType]bool{
	ConnectionThematic:  true,
	ConnectionTemporal:  true,
	ConnectionProject:   true,
	ConnectionTechnical: true,
	ConnectionPersonal:  true,
	ConnectionReference: true,
	ConnectionNone:      true,
}

// ParseConnectionType normalizes an analyzer-supplied tag. An empty tag is
// treated as thematic; anything unrecognized becomes ConnectionNone.
func ParseConnectionType(s string) ConnectionType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ConnectionThematic
	}
	ct := ConnectionType(s)
	if connectionTypes[ct] {
		return ct
	}
	return ConnectionNone
}

// Connection is a scored, typed, directed claim that Source relates to Target.
// Source is the first-visited document of the compared pair.
type Connection struct {
	ID            int64          `json:"id"`
	Source        string         `json:"source"`
	Target        string         `json:"target"`
	Type          ConnectionType `json:"type"`
	Strength      float64        `json:"strength"`
	Confidence    float64        `json:"confidence"`
	Reason        string         `json:"reason"`
	SuggestedLink string         `json:"suggested_link,omitempty"`
	Applied       bool           `json:"applied"`
	DiscoveredAt  time.Time      `json:"discovered_at"`
	AppliedAt     *time.Time     `json:"applied_at,omitempty"`
}

// IsInteresting reports whether a comparison result is worth keeping: the
// score must exceed minScore and the type must not be "none".
func (c *Connection) IsInteresting(minScore float64) bool {
	return c.Strength > minScore && c.Type != ConnectionNone
}

package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAgentNotFound = errors.New("published agent not found")
)

// PublishedAgent is the deployed configuration of an agent, addressable by
// the widget it is embedded in. Only published agents accept connections.
type PublishedAgent struct {
	ID          string    `bson:"_id" json:"id"`
	WidgetID    string    `bson:"widgetId" json:"widgetId"`
	Name        string    `bson:"name" json:"name"`
	PublishedAt time.Time `bson:"publishedAt" json:"publishedAt"`
}

// AgentDirectory resolves a widget identifier to its published agent.
type AgentDirectory interface {
	FindPublishedByWidgetID(ctx context.Context, widgetID string) (*PublishedAgent, error)
}

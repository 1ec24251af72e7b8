package domain

import (
	"context"
	"time"
)

// Tool is a capability an agent can invoke during a conversation.
type Tool struct {
	ID          string    `bson:"_id" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	Endpoint    string    `bson:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

type ToolRepository interface {
	GetAll(ctx context.Context) ([]Tool, error)
}

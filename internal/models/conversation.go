package models

import "time"

// Conversation is owned by the assignment service; the chat core only reads it.
type Conversation struct {
	ID          string    `db:"id" json:"id"`
	OperatorID  *string   `db:"operator_id" json:"operator_id,omitempty"`
	AssistantID *string   `db:"assistant_id" json:"assistant_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

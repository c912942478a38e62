// Package events implements the per-session event bus: a single-writer
// ordered sink that serializes outbound frames to the client connection.
package events

import (
	"github.com/senarios/aris/pkg/models"
)

// PlanSnapshot and DocumentNotice are re-exported so bus consumers only
// need this package for publishing.
type (
	PlanSnapshot   = models.PlanSnapshot
	DocumentNotice = models.DocumentNotice
)

// Outbound frame type tags.
const (
	FrameTypeChainOfThought = "chain_of_thought"
	FrameTypePlanCreate     = "plan_create"
	FrameTypePlanUpdate     = "plan_update"
	FrameTypeDoc            = "doc"
	FrameTypeMessage        = "message"
	FrameTypePing           = "ping"
	FrameTypeError          = "error"
)

// ProgressFrame is a free-form short status line.
type ProgressFrame struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// PlanFrame carries a full plan snapshot (plan_create and plan_update).
type PlanFrame struct {
	Type string              `json:"type"`
	Data models.PlanSnapshot `json:"data"`
}

// DocFrame advises the client of an out-of-band document attachment.
type DocFrame struct {
	Type string  `json:"type"`
	Data DocData `json:"data"`
}

// DocData wraps the document notice payload.
type DocData struct {
	Document models.DocumentNotice `json:"document"`
}

// FinalFrame is the end-of-turn assistant reply.
type FinalFrame struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Type    string         `json:"type"`
	Action  string         `json:"action"`
}

// PingFrame is the keep-alive frame.
type PingFrame struct {
	Type string `json:"type"`
}

// ErrorFrame reports a recoverable protocol error to the client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

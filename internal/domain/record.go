package domain

import "time"

// Infringement is a per-session record as stored in the session database.
type Infringement struct {
	ID                 int64          `json:"id"`
	KartNumber         int            `json:"kart_number"`
	TurnNumber         *string        `json:"turn_number"`
	Description        string         `json:"description"`
	Observer           *string        `json:"observer"`
	WarningCount       int            `json:"warning_count"`
	PenaltyDue         string         `json:"penalty_due"`
	PenaltyDescription *string        `json:"penalty_description"`
	PenaltyTaken       *time.Time     `json:"penalty_taken"`
	Timestamp          *time.Time     `json:"timestamp"`
	History            []HistoryEntry `json:"history"`
}

// HistoryEntry is one audit row attached to an infringement.
type HistoryEntry struct {
	Action      string     `json:"action"`
	PerformedBy *string    `json:"performed_by"`
	Observer    *string    `json:"observer"`
	Details     *string    `json:"details"`
	Timestamp   *time.Time `json:"timestamp"`
}

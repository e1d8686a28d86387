package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExitReason string

const (
	ExitWithdrawn ExitReason = "withdrawn"
	ExitRemoved   ExitReason = "removed"
	ExitHelped    ExitReason = "helped"
)

// HistoryRecord is the durable trace of an entry that left the live queue.
type HistoryRecord struct {
	RequesterID    string     `json:"requester_id"`
	DisplayName    string     `json:"display_name"`
	Question       string     `json:"question"`
	Location       string     `json:"location"`
	Topic          string     `json:"topic"`
	HelperID       string     `json:"helper_id,omitempty"`
	HelperName     string     `json:"helper_name,omitempty"`
	EntryTime      time.Time  `json:"entry_time"`
	HelpTime       *time.Time `json:"help_time,omitempty"`
	ExitTime       time.Time  `json:"exit_time"`
	ExitReason     ExitReason `json:"exit_reason"`
	Served         bool       `json:"served"`
	NumFixRequests int        `json:"num_fix_requests"`
	NumMessages    int        `json:"num_messages"`
}

// NewHistoryRecord flattens the final snapshot of a removed entry.
func NewHistoryRecord(e *Entry, reason ExitReason, exit time.Time) HistoryRecord {
	rec := HistoryRecord{
		RequesterID:    e.RequesterID,
		DisplayName:    e.DisplayName,
		Question:       e.Question,
		Location:       e.Location,
		Topic:          e.Topic,
		EntryTime:      e.EntryTime,
		ExitTime:       exit,
		ExitReason:     reason,
		Served:         e.Served(),
		NumFixRequests: e.NumFixRequests,
		NumMessages:    len(e.MessageBuffer),
	}
	if e.HelpTime != nil {
		t := *e.HelpTime
		rec.HelpTime = &t
	}
	if e.Helper != nil {
		rec.HelperID = e.Helper.ID
		rec.HelperName = e.Helper.Name
	}
	return rec
}

type QueueStats struct {
	Since            time.Time       `json:"since"`
	QuestionsAsked   int             `json:"questions_asked"`
	QuestionsServed  int             `json:"questions_served"`
	QuestionsRevised int             `json:"questions_revised"`
	AvgWaitMinutes   decimal.Decimal `json:"avg_wait_minutes"`
	AvgHelpMinutes   decimal.Decimal `json:"avg_help_minutes"`
	LastUpdated      time.Time       `json:"last_updated"`
}

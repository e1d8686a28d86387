package models

import (
	"time"
)

// Status is the live state of a queue entry. An identity with no entry is
// off the queue; that is never stored.
type Status string

const (
	StatusWaiting           Status = "waiting"
	StatusBeingHelped       Status = "being_helped"
	StatusFixingQuestion    Status = "fixing_question"
	StatusReceivedMessage   Status = "received_message"
	StatusCooldownViolation Status = "cooldown_violation"
	StatusOffQueue          Status = "off_queue"
)

// Content is the requester-editable part of an entry.
type Content struct {
	Question string `json:"question"`
	Location string `json:"location"`
	Topic    string `json:"topic"`
}

type HelperInfo struct {
	ID         string `json:"helper_id"`
	Name       string `json:"helper_name"`
	VideoChat  bool   `json:"video_chat_enabled"`
	ContactURL string `json:"contact_url,omitempty"`
}

type Message struct {
	ID         string    `json:"id"`
	HelperID   string    `json:"helper_id"`
	HelperName string    `json:"helper_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// Entry is one requester's live help request. Helper is non-nil only while
// Status is StatusBeingHelped.
type Entry struct {
	RequesterID    string      `json:"requester_id"`
	DisplayName    string      `json:"display_name"`
	Content                    // question, location, topic
	Status         Status      `json:"status"`
	IsFrozen       bool        `json:"is_frozen"`
	EntryTime      time.Time   `json:"entry_time"`
	HelpTime       *time.Time  `json:"help_time,omitempty"`
	Helper         *HelperInfo `json:"helper,omitempty"`
	Message        string      `json:"message,omitempty"`
	MessageBuffer  []Message   `json:"message_buffer"`
	NumFixRequests int         `json:"num_fix_requests"`
}

// Clone returns a deep copy so callers never share memory with the live queue.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.HelpTime != nil {
		t := *e.HelpTime
		c.HelpTime = &t
	}
	if e.Helper != nil {
		h := *e.Helper
		c.Helper = &h
	}
	c.MessageBuffer = make([]Message, len(e.MessageBuffer))
	copy(c.MessageBuffer, e.MessageBuffer)
	return &c
}

// Served reports whether a helper ever began serving this entry.
func (e *Entry) Served() bool {
	return e.HelpTime != nil
}

// EntrySnapshot is an entry annotated with its position at read time.
type EntrySnapshot struct {
	*Entry
	Position int `json:"position"`
}

type Position struct {
	RequesterID string `json:"requester_id"`
	Position    int    `json:"position"`
}

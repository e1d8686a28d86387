package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"office-hours-queue/internal/queue"
	"office-hours-queue/models"
	"office-hours-queue/monitoring"
	"office-hours-queue/utils"
)

type outbound struct {
	channel string
	message map[string]any
	seq     uint64
	// latest marks a full-state message: an older one arriving after a newer
	// one on the same channel is dropped.
	latest bool
}

// Notifier fans queue changes out to the public, helper and per-requester
// channels. A single worker delivers changes in the order Notify receives
// them, which can differ from commit order; every message carries the change
// sequence number, and public and per-requester state older than what a
// channel already received is dropped. A full backlog drops the change rather
// than blocking the caller.
type Notifier struct {
	publisher Publisher
	channels  *utils.ChannelNamer
	timeout   time.Duration

	mu      sync.RWMutex
	closed  bool
	pending chan []outbound
	done    chan struct{}
}

func NewNotifier(publisher Publisher, channels *utils.ChannelNamer, timeout time.Duration, backlog int) *Notifier {
	if backlog <= 0 {
		backlog = 256
	}
	n := &Notifier{
		publisher: publisher,
		channels:  channels,
		timeout:   timeout,
		pending:   make(chan []outbound, backlog),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	sent := map[string]uint64{}
	for batch := range n.pending {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		for _, msg := range batch {
			if msg.latest && msg.seq != 0 {
				if last, ok := sent[msg.channel]; ok && msg.seq <= last {
					slog.Debug("dropping stale broadcast", "channel", msg.channel, "seq", msg.seq, "last_seq", last)
					continue
				}
				sent[msg.channel] = msg.seq
			}
			if err := n.publisher.Publish(ctx, msg.channel, msg.message); err != nil {
				monitoring.TrackBroadcastFailure()
				slog.Warn("broadcast failed", "channel", msg.channel, "type", msg.message["type"], "error", err)
			}
		}
		cancel()
	}
}

// Notify queues the broadcast for a committed change. It never blocks, and
// does nothing once the notifier is closed.
func (n *Notifier) Notify(change *queue.Change, data models.QueueData) {
	if change == nil {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.pending <- n.messagesFor(change, data):
	default:
		monitoring.TrackBroadcastFailure()
		slog.Warn("broadcast backlog full, dropping change", "op", change.Op, "requester_id", change.RequesterID)
	}
}

// Close stops accepting changes and waits for the backlog to drain.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.pending)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) messagesFor(change *queue.Change, data models.QueueData) []outbound {
	seq := change.Seq
	msgs := []outbound{{
		channel: utils.PublicQueueChannel,
		message: map[string]any{"type": "queue_data", "seq": seq, "data": data},
		seq:     seq,
		latest:  true,
	}}

	helperMsg := map[string]any{
		"type": "queue_change",
		"seq":  seq,
		"op":   change.Op,
		"at":   change.At,
	}
	if change.RequesterID != "" {
		helperMsg["requester_id"] = change.RequesterID
	}
	if change.Entry != nil {
		helperMsg["entry"] = change.Entry
	}
	if change.Removed != nil {
		helperMsg["removed"] = change.Removed
		helperMsg["exit_reason"] = change.ExitReason
		helperMsg["positions"] = change.Positions
	}
	msgs = append(msgs, outbound{channel: n.channels.Helpers(), message: helperMsg, seq: seq})

	switch {
	case change.Entry != nil:
		msgs = append(msgs, outbound{
			channel: n.channels.Requester(change.RequesterID),
			message: map[string]any{"type": "entry", "seq": seq, "op": change.Op, "entry": change.Entry},
			seq:     seq,
			latest:  true,
		})
	case change.Removed != nil:
		msgs = append(msgs, outbound{
			channel: n.channels.Requester(change.RequesterID),
			message: map[string]any{"type": "removed", "seq": seq, "exit_reason": change.ExitReason},
			seq:     seq,
			latest:  true,
		})
		for i, p := range change.Positions {
			msg := map[string]any{"type": "position", "seq": seq, "position": p.Position}
			if i < len(change.Remaining) {
				msg["entry"] = &change.Remaining[i]
			}
			msgs = append(msgs, outbound{
				channel: n.channels.Requester(p.RequesterID),
				message: msg,
				seq:     seq,
				latest:  true,
			})
		}
	}
	return msgs
}

package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const PublicQueueChannel = "queue"

// ChannelNamer derives PubNub channel names from a server secret so that a
// requester cannot guess another requester's channel or the helpers' channel.
type ChannelNamer struct {
	secret []byte
}

func NewChannelNamer(secret string) *ChannelNamer {
	return &ChannelNamer{secret: []byte(secret)}
}

func (n *ChannelNamer) Requester(requesterID string) string {
	return "requester-" + n.derive("requester:"+requesterID)
}

func (n *ChannelNamer) Helpers() string {
	return "helpers-" + n.derive("helpers")
}

func (n *ChannelNamer) derive(label string) string {
	key := n.secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New(16, key)
	if err != nil {
		// only reachable with an oversized key, handled above
		panic(err)
	}
	h.Write([]byte(label))
	return hex.EncodeToString(h.Sum(nil))
}

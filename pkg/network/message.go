// Copyright 2025 Certen Protocol
//
// Message Envelope - typed messages exchanged between simulated nodes
//
// The envelope is opaque to the transport: a type, a payload, the tick it
// was created on and an optional source node. Delivery priority is a
// fixed function of the type; only priorities <= 3 ride the router's
// high-priority queue.

package network

import (
	"github.com/google/uuid"
)

// MessageType identifies the payload carried by an envelope.
type MessageType string

// Recognized message types.
const (
	MsgForkWarning          MessageType = "FORK_WARNING"
	MsgBlacklistUpdate      MessageType = "BLACKLIST_UPDATE"
	MsgRejectionNotice      MessageType = "REJECTION_NOTIFICATION"
	MsgBlockBroadcast       MessageType = "BLOCK_BROADCAST"
	MsgTransferConfirmation MessageType = "TRANSFER_CONFIRMATION"
	MsgNodeStatus           MessageType = "NODE_STATUS"
	MsgHeartbeat            MessageType = "HEARTBEAT"
)

// defaultPriority applies to unrecognized types.
const defaultPriority = 10

// highPriorityThreshold separates the priority-queue classes: lower
// number = higher priority, and only types at or below this threshold
// are treated as high priority by the router.
const highPriorityThreshold = 3

var priorityTable = map[MessageType]int{
	MsgForkWarning:          1,
	MsgBlacklistUpdate:      2,
	MsgRejectionNotice:      3,
	MsgBlockBroadcast:       4,
	MsgTransferConfirmation: 5,
	MsgNodeStatus:           7,
	MsgHeartbeat:            9,
}

// PriorityFor returns the delivery priority for a message type.
func PriorityFor(t MessageType) int {
	if p, ok := priorityTable[t]; ok {
		return p
	}
	return defaultPriority
}

// IsHighPriority reports whether the type rides the priority queue.
func IsHighPriority(t MessageType) bool {
	return PriorityFor(t) <= highPriorityThreshold
}

// Message is the envelope exchanged between nodes.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp uint64      `json:"timestamp"` // creation tick
	Source    string      `json:"source,omitempty"`
}

// NewMessage builds an envelope with a fresh unique id.
func NewMessage(t MessageType, data interface{}, tick uint64, source string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Data:      data,
		Timestamp: tick,
		Source:    source,
	}
}

// Priority returns the message's delivery priority.
func (m *Message) Priority() int { return PriorityFor(m.Type) }

// Delivery is an envelope landed in a node inbox.
type Delivery struct {
	Message     *Message
	Sender      string
	ArrivalTick uint64
}

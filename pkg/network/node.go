// Copyright 2025 Certen Protocol
//
// Node - a transport peer in the simulated gossip network
//
// A node holds its own key pair, a set of outbound connections and a
// FIFO inbox. It never interprets record semantics; it only moves
// envelopes. Inboxes are single-writer (the router) and single-reader
// (the node's owner).

package network

import (
	"fmt"
	"sync"

	"github.com/saintthor/chainsim/pkg/keys"
)

// Node is a transport-only peer.
type Node struct {
	mu sync.RWMutex

	id    string
	keys  *keys.KeyPair
	peers []string
	peerSet map[string]struct{}

	inbox []Delivery

	// Message ids this node has already accepted, for broadcast dedup.
	seen map[string]struct{}
}

// NewNode creates a node with a fresh key pair.
func NewNode(id string) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id is required")
	}
	kp, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return &Node{
		id:      id,
		keys:    kp,
		peerSet: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// PublicHex returns the node's public key identity.
func (n *Node) PublicHex() string { return n.keys.PublicHex() }

// ConnectTo creates a bidirectional connection. Idempotent.
func (n *Node) ConnectTo(peer *Node) {
	if peer == nil || peer.id == n.id {
		return
	}
	n.addPeer(peer.id)
	peer.addPeer(n.id)
}

// Disconnect removes a bidirectional connection. Idempotent.
func (n *Node) Disconnect(peer *Node) {
	if peer == nil {
		return
	}
	n.removePeer(peer.id)
	peer.removePeer(n.id)
}

func (n *Node) addPeer(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peerSet[id]; ok {
		return
	}
	n.peerSet[id] = struct{}{}
	n.peers = append(n.peers, id)
}

func (n *Node) removePeer(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peerSet[id]; !ok {
		return
	}
	delete(n.peerSet, id)
	for i, p := range n.peers {
		if p == id {
			n.peers = append(n.peers[:i], n.peers[i+1:]...)
			break
		}
	}
}

// Peers returns the outbound connections in connection order.
func (n *Node) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.peers))
	copy(out, n.peers)
	return out
}

// HasPeer reports whether the node is connected to id.
func (n *Node) HasPeer(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.peerSet[id]
	return ok
}

// Receive appends an envelope to the inbox. The first copy of each
// message id is accepted; later copies report false so the router can
// count the drop.
func (n *Node) Receive(msg *Message, sender string, tick uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.seen[msg.ID]; dup {
		return false
	}
	n.seen[msg.ID] = struct{}{}
	n.inbox = append(n.inbox, Delivery{Message: msg, Sender: sender, ArrivalTick: tick})
	return true
}

// MarkSeen records a message id without delivering it. The router uses
// this on a broadcast origin so flooding cannot hand the message back.
func (n *Node) MarkSeen(messageID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen[messageID] = struct{}{}
}

// HasSeen reports whether the node already accepted the message id.
func (n *Node) HasSeen(messageID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.seen[messageID]
	return ok
}

// InboxLen returns the number of pending deliveries.
func (n *Node) InboxLen() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.inbox)
}

// DrainInbox removes and returns all pending deliveries, FIFO.
func (n *Node) DrainInbox() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.inbox
	n.inbox = nil
	return out
}

// ClearInbox discards all pending deliveries.
func (n *Node) ClearInbox() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox = nil
}

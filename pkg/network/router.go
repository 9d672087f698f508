// Copyright 2025 Certen Protocol
//
// Router - tick-driven message scheduler for the simulated network
//
// Every message is assigned a delivery delay in ticks when scheduled.
// High-priority messages (priority <= 3) ride a priority queue and use a
// short delay range; everything else lands in per-tick buckets. On each
// tick the router drains the priority queue first, then the tick's
// bucket, delivering in priority order with FIFO among equals. Broadcast
// is flooding with node-level dedup by message id.

package network

import (
	"container/heap"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Default delay and age bounds, in ticks.
const (
	DefaultMinDelay   = 1
	DefaultMaxDelay   = 9
	DefaultMessageAge = 100
)

// DropReason classifies discarded deliveries.
type DropReason string

const (
	DropDuplicate DropReason = "duplicate"
	DropExpired   DropReason = "expired"
	DropNoRoute   DropReason = "no_route"
	DropFailed    DropReason = "failed"
)

// DeliveryObserver receives delivery accounting callbacks. Implemented
// by the metrics layer; a nil observer is fine.
type DeliveryObserver interface {
	MessageDelivered(t MessageType)
	MessageDropped(reason DropReason)
}

// scheduled is one pending delivery.
type scheduled struct {
	deliverTick uint64
	priority    int
	seq         uint64 // enqueue order, breaks ties FIFO
	to          string
	sender      string
	msg         *Message
	flood       bool // re-forward to the recipient's peers on delivery
	enqueued    uint64
}

// scheduledHeap orders pending high-priority deliveries by
// (deliverTick, priority, seq).
type scheduledHeap []*scheduled

func (h scheduledHeap) Len() int { return len(h) }
func (h scheduledHeap) Less(i, j int) bool {
	if h[i].deliverTick != h[j].deliverTick {
		return h[i].deliverTick < h[j].deliverTick
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h scheduledHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scheduledHeap) Push(x interface{}) { *h = append(*h, x.(*scheduled)) }
func (h *scheduledHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RouterStats is a point-in-time view of router accounting.
type RouterStats struct {
	Scheduled        uint64
	Delivered        uint64
	DroppedDuplicate uint64
	DroppedExpired   uint64
	DroppedFailed    uint64
}

// BroadcastResult aggregates a flooding broadcast.
type BroadcastResult struct {
	BroadcastID         string
	Origin              string
	ScheduledDeliveries int
	NodesReached        int    // unique nodes reachable as flooding converges
	EstimatedDuration   uint64 // ticks, ~1.5x the max scheduled delay
}

// Router schedules and delivers messages between nodes.
type Router struct {
	mu sync.Mutex

	nodes map[string]*Node
	order []string

	rng         *rand.Rand
	minDelay    uint64
	maxDelay    uint64
	maxAge      uint64
	failureRate float64

	seq     uint64
	buckets map[uint64][]*scheduled
	pq      scheduledHeap

	stats    RouterStats
	observer DeliveryObserver

	logger *log.Logger
}

// RouterConfig holds router configuration.
type RouterConfig struct {
	MinDelay uint64
	MaxDelay uint64
	MaxAge   uint64 // messages older than this many ticks are discarded
	// FailureRate is the fraction of deliveries that silently fail,
	// in [0,1].
	FailureRate float64
	Rand        *rand.Rand
	Observer    DeliveryObserver
	Logger      *log.Logger
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		MaxAge:   DefaultMessageAge,
		Logger:   log.New(log.Writer(), "[Router] ", log.LstdFlags),
	}
}

// NewRouter creates a router.
func NewRouter(cfg *RouterConfig) *Router {
	if cfg == nil {
		cfg = DefaultRouterConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Router] ", log.LstdFlags)
	}
	if cfg.MinDelay == 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMessageAge
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	r := &Router{
		nodes:       make(map[string]*Node),
		rng:         rng,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		maxAge:      cfg.MaxAge,
		failureRate: cfg.FailureRate,
		buckets:     make(map[uint64][]*scheduled),
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}
	heap.Init(&r.pq)
	return r
}

// AddNode registers a node with the router.
func (r *Router) AddNode(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.ID()]; ok {
		return
	}
	r.nodes[n.ID()] = n
	r.order = append(r.order, n.ID())
}

// Node returns a registered node.
func (r *Router) Node(id string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

// NodeIDs returns registered node ids in registration order.
func (r *Router) NodeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Stats returns a copy of the router's accounting.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// delayFor draws a delivery delay. High-priority messages use [1,
// min(3, maxDelay)], everything else [minDelay, maxDelay].
func (r *Router) delayFor(t MessageType) uint64 {
	if IsHighPriority(t) {
		hi := r.maxDelay
		if hi > 3 {
			hi = 3
		}
		if hi < 1 {
			hi = 1
		}
		return 1 + uint64(r.rng.Intn(int(hi)))
	}
	span := r.maxDelay - r.minDelay + 1
	return r.minDelay + uint64(r.rng.Intn(int(span)))
}

// ScheduleMessage schedules a point-to-point delivery at now + delay.
// It returns the tick the message will be delivered on.
func (r *Router) ScheduleMessage(msg *Message, from, to string, now uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg == nil {
		return 0, fmt.Errorf("message cannot be nil")
	}
	if _, ok := r.nodes[to]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	return r.enqueue(msg, from, to, now, false), nil
}

// enqueue places one delivery. Caller holds the lock.
func (r *Router) enqueue(msg *Message, from, to string, now uint64, flood bool) uint64 {
	delay := r.delayFor(msg.Type)
	s := &scheduled{
		deliverTick: now + delay,
		priority:    msg.Priority(),
		seq:         r.seq,
		to:          to,
		sender:      from,
		msg:         msg,
		flood:       flood,
		enqueued:    now,
	}
	r.seq++
	r.stats.Scheduled++
	if IsHighPriority(msg.Type) {
		heap.Push(&r.pq, s)
	} else {
		r.buckets[s.deliverTick] = append(r.buckets[s.deliverTick], s)
	}
	return s.deliverTick
}

// Broadcast floods a message from the origin's peers outward. Each node
// re-forwards the first copy it accepts to its peers except the sender;
// later copies are dropped at the node. The returned aggregate reports
// the initial fan-out, the set of nodes flooding will reach on the
// current topology, and an estimated duration.
func (r *Router) Broadcast(msg *Message, origin string, now uint64) (*BroadcastResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	originNode, ok := r.nodes[origin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, origin)
	}

	// The origin holds the message already; flag it seen so a flood loop
	// cannot hand it back.
	originNode.MarkSeen(msg.ID)

	result := &BroadcastResult{
		BroadcastID: uuid.New().String(),
		Origin:      origin,
	}
	var maxDelay uint64
	for _, peer := range originNode.Peers() {
		if _, ok := r.nodes[peer]; !ok {
			r.drop(DropNoRoute)
			continue
		}
		tick := r.enqueue(msg, origin, peer, now, true)
		if d := tick - now; d > maxDelay {
			maxDelay = d
		}
		result.ScheduledDeliveries++
	}
	result.NodesReached = r.reachableFrom(origin)
	result.EstimatedDuration = uint64(math.Ceil(1.5 * float64(maxDelay)))
	return result, nil
}

// reachableFrom counts nodes reachable from origin on the current
// topology, origin excluded. Caller holds the lock.
func (r *Router) reachableFrom(origin string) int {
	visited := map[string]struct{}{origin: {}}
	queue := []string{origin}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node, ok := r.nodes[cur]
		if !ok {
			continue
		}
		for _, peer := range node.Peers() {
			if _, seen := visited[peer]; seen {
				continue
			}
			visited[peer] = struct{}{}
			queue = append(queue, peer)
		}
	}
	return len(visited) - 1
}

// DeliverDue delivers everything due at or before tick: the priority
// queue first, then bucketed normal-priority messages in (priority,
// FIFO) order. Duplicate and over-age messages are counted and dropped.
func (r *Router) DeliverDue(tick uint64) {
	r.mu.Lock()

	var due []*scheduled
	for r.pq.Len() > 0 && r.pq[0].deliverTick <= tick {
		due = append(due, heap.Pop(&r.pq).(*scheduled))
	}

	var bucketTicks []uint64
	for t := range r.buckets {
		if t <= tick {
			bucketTicks = append(bucketTicks, t)
		}
	}
	sort.Slice(bucketTicks, func(i, j int) bool { return bucketTicks[i] < bucketTicks[j] })
	for _, t := range bucketTicks {
		batch := r.buckets[t]
		delete(r.buckets, t)
		sort.SliceStable(batch, func(i, j int) bool {
			if batch[i].priority != batch[j].priority {
				return batch[i].priority < batch[j].priority
			}
			return batch[i].seq < batch[j].seq
		})
		due = append(due, batch...)
	}
	r.mu.Unlock()

	for _, s := range due {
		r.deliver(s, tick)
	}
}

// deliver lands one delivery and, for flood messages, schedules the
// re-forwards.
func (r *Router) deliver(s *scheduled, tick uint64) {
	r.mu.Lock()
	node, ok := r.nodes[s.to]
	if !ok {
		r.drop(DropNoRoute)
		r.mu.Unlock()
		return
	}
	if tick > s.msg.Timestamp && tick-s.msg.Timestamp > r.maxAge {
		r.drop(DropExpired)
		r.mu.Unlock()
		return
	}
	if r.failureRate > 0 && r.rng.Float64() < r.failureRate {
		r.drop(DropFailed)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if !node.Receive(s.msg, s.sender, tick) {
		r.mu.Lock()
		r.drop(DropDuplicate)
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.stats.Delivered++
	if r.observer != nil {
		r.observer.MessageDelivered(s.msg.Type)
	}
	if s.flood {
		for _, peer := range node.Peers() {
			if peer == s.sender {
				continue
			}
			if target, ok := r.nodes[peer]; !ok || target.HasSeen(s.msg.ID) {
				continue
			}
			r.enqueue(s.msg, s.to, peer, tick, true)
		}
	}
	r.mu.Unlock()
}

// drop records a discarded delivery. Caller holds the lock.
func (r *Router) drop(reason DropReason) {
	switch reason {
	case DropDuplicate:
		r.stats.DroppedDuplicate++
	case DropExpired:
		r.stats.DroppedExpired++
	case DropFailed:
		r.stats.DroppedFailed++
	}
	if r.observer != nil {
		r.observer.MessageDropped(reason)
	}
}

// PendingCount returns the number of undelivered messages.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.pq.Len()
	for _, b := range r.buckets {
		n += len(b)
	}
	return n
}

// Copyright 2025 Certen Protocol
//
// Simulation - wires the clock, router, chains, users and validation
// into the tick-driven control flow
//
// Each tick: the router delivers due messages, every node's inbox is
// processed (records validated and appended, fork warnings applied),
// the payment controller samples transfer attempts and broadcasts the
// produced records, and pending transfers are re-checked against their
// confirmation windows.

package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/saintthor/chainsim/pkg/archive"
	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/config"
	"github.com/saintthor/chainsim/pkg/manager"
	"github.com/saintthor/chainsim/pkg/metrics"
	"github.com/saintthor/chainsim/pkg/network"
	"github.com/saintthor/chainsim/pkg/payments"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/security"
	"github.com/saintthor/chainsim/pkg/user"
	"github.com/saintthor/chainsim/pkg/validator"
)

// BlockBroadcastData is the payload of a BLOCK_BROADCAST message.
type BlockBroadcastData struct {
	Record  *record.Record `json:"record"`
	ChainID string         `json:"chain_id"`
}

// RejectionData is the payload of a REJECTION_NOTIFICATION message.
type RejectionData struct {
	Rejection *record.RejectionPayload `json:"rejection"`
}

// pendingTransfer tracks an accepted transfer through its confirmation
// window.
type pendingTransfer struct {
	rec         *record.Record
	chainID     string
	receiveTick uint64
}

// Simulation owns the whole simulated network.
type Simulation struct {
	mu sync.Mutex

	cfg *config.Config

	clock      *network.Clock
	router     *network.Router
	nodes      []*network.Node
	mgr        *manager.Manager
	controller *payments.Controller
	validator  *validator.Validator
	ledger     *security.Ledger
	store      *archive.Store
	metrics    *metrics.Metrics

	params validator.NetworkParams
	rng    *rand.Rand

	// Reception state.
	pending          []pendingTransfer
	conflictsByChain map[string][]*record.Record
	warnings         []validator.Warning
	processed        map[string]struct{} // record ids already adjudicated
	seenWarnings     map[string]struct{} // warning message ids applied

	// Accounting.
	transfersAccepted  uint64
	transfersConfirmed uint64
	transfersRejected  uint64

	// Subsystem health; a false entry means the subsystem hit a
	// fatal-on-retry condition and was left behind, not that the
	// simulation stopped.
	health map[string]bool

	flushedEvents int

	logger *log.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Store   *archive.Store
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// New builds a simulation from configuration: users, nodes, topology,
// router, validator, ledger and payment controller.
func New(cfg *config.Config, opts *Options) (*Simulation, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Simulation] ", log.LstdFlags)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	users := make([]*user.User, 0, cfg.UserCount)
	for i := 0; i < cfg.UserCount; i++ {
		u, err := user.New(fmt.Sprintf("user-%d", i))
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	mgr, err := manager.New(users, &manager.Config{
		Rand:   rand.New(rand.NewSource(cfg.Seed + 1)),
		Logger: log.New(log.Writer(), "[ChainManager] ", log.LstdFlags),
	})
	if err != nil {
		return nil, err
	}

	controller, err := payments.New(mgr, &payments.Config{
		PaymentRate: cfg.PaymentRate,
		Rand:        rand.New(rand.NewSource(cfg.Seed + 2)),
		Logger:      log.New(log.Writer(), "[PaymentController] ", log.LstdFlags),
	})
	if err != nil {
		return nil, err
	}

	var observer network.DeliveryObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	router := network.NewRouter(&network.RouterConfig{
		MinDelay:    cfg.MinDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxAge:      cfg.MessageMaxAge,
		FailureRate: cfg.FailureRate,
		Rand:        rand.New(rand.NewSource(cfg.Seed + 3)),
		Observer:    observer,
	})

	s := &Simulation{
		cfg:        cfg,
		clock:      network.NewClock(&network.ClockConfig{Interval: cfg.TickInterval}),
		router:     router,
		mgr:        mgr,
		controller: controller,
		validator: validator.New(&validator.Config{
			CacheTTL:     cfg.CacheTTL,
			ReapInterval: cfg.ReapInterval,
		}),
		ledger:  security.NewLedger(nil),
		store:   opts.Store,
		metrics: opts.Metrics,
		params: validator.NetworkParams{
			NodeCount:      cfg.NodeCount,
			AvgConnections: cfg.ConnectionCount,
			MaxDelay:       cfg.MaxDelay,
		},
		rng:              rng,
		conflictsByChain: make(map[string][]*record.Record),
		processed:        make(map[string]struct{}),
		seenWarnings:     make(map[string]struct{}),
		health:           map[string]bool{"cache": true, "archive": true},
		logger:           logger,
	}

	if err := s.buildTopology(); err != nil {
		return nil, err
	}
	s.clock.Subscribe(s.step)
	return s, nil
}

// buildTopology creates the nodes and connects them: a ring for
// guaranteed connectivity, then random extra edges up to the configured
// connection count.
func (s *Simulation) buildTopology() error {
	n := s.cfg.NodeCount
	s.nodes = make([]*network.Node, 0, n)
	for i := 0; i < n; i++ {
		node, err := network.NewNode(fmt.Sprintf("node-%d", i))
		if err != nil {
			return err
		}
		s.nodes = append(s.nodes, node)
		s.router.AddNode(node)
	}
	for i, node := range s.nodes {
		node.ConnectTo(s.nodes[(i+1)%n])
	}
	for _, node := range s.nodes {
		for attempts := 0; len(node.Peers()) < s.cfg.ConnectionCount && attempts < 8*n; attempts++ {
			peer := s.nodes[s.rng.Intn(n)]
			if peer.ID() == node.ID() {
				continue
			}
			node.ConnectTo(peer)
		}
	}
	return nil
}

// Provision mints the chains from a definition document.
func (s *Simulation) Provision(definition []byte) (*manager.BatchResult, error) {
	return s.mgr.CreateChainsFromDefinition(definition, s.clock.Current())
}

// Run advances the clock until maxTicks or context cancellation, pacing
// ticks by the configured interval.
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for s.clock.Current() < s.cfg.MaxTicks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.clock.Advance()
		}
	}
	return nil
}

// RunTicks advances the clock synchronously, for tests and batch runs.
func (s *Simulation) RunTicks(n uint64) {
	target := s.clock.Current() + n
	for s.clock.Current() < target {
		s.clock.Advance()
	}
}

// Clock exposes the simulation clock.
func (s *Simulation) Clock() *network.Clock { return s.clock }

// Manager exposes the chain manager.
func (s *Simulation) Manager() *manager.Manager { return s.mgr }

// Ledger exposes the security ledger.
func (s *Simulation) Ledger() *security.Ledger { return s.ledger }

// Validator exposes the validator.
func (s *Simulation) Validator() *validator.Validator { return s.validator }

// Router exposes the router.
func (s *Simulation) Router() *network.Router { return s.router }

// Close tears down background workers and flushes the archive.
func (s *Simulation) Close() {
	if err := s.Flush(); err != nil {
		s.logger.Printf("final flush: %v", err)
	}
	s.validator.Close()
}

// ====== Tick processing ======

// step is the single tick listener: delivery, inbox processing, payment
// sampling, confirmation review.
func (s *Simulation) step(tick uint64) {
	s.router.DeliverDue(tick)
	s.processInboxes(tick)
	s.samplePayments(tick)
	s.reviewPending(tick)

	if s.metrics != nil {
		s.metrics.CurrentTick.Set(float64(tick))
		s.metrics.BlacklistSize.Set(float64(s.ledger.BlacklistSize()))
	}
	if !s.validator.CacheHealthy() {
		s.setHealth("cache", false)
	}
}

// processInboxes drains every node inbox and dispatches by message
// type.
func (s *Simulation) processInboxes(tick uint64) {
	for _, node := range s.nodes {
		for _, delivery := range node.DrainInbox() {
			switch delivery.Message.Type {
			case network.MsgBlockBroadcast:
				s.handleBlockBroadcast(node, delivery, tick)
			case network.MsgForkWarning:
				s.handleForkWarning(delivery, tick)
			case network.MsgBlacklistUpdate, network.MsgRejectionNotice,
				network.MsgTransferConfirmation, network.MsgNodeStatus, network.MsgHeartbeat:
				// Observational; no chain state changes.
			}
		}
	}
}

// handleBlockBroadcast adjudicates a received record against its chain.
// Chain logs are shared (the manager owns them), so only the first
// reception runs the full pipeline; later copies of the same record are
// settled already.
func (s *Simulation) handleBlockBroadcast(node *network.Node, delivery network.Delivery, tick uint64) {
	data, ok := delivery.Message.Data.(BlockBroadcastData)
	if !ok {
		s.logger.Printf("malformed block broadcast %s", delivery.Message.ID)
		return
	}
	rec := data.Record
	if rec == nil {
		return
	}
	if _, done := s.processed[rec.ID()]; done {
		return
	}
	s.processed[rec.ID()] = struct{}{}

	c, ok := s.mgr.Chain(data.ChainID)
	if !ok {
		s.logger.Printf("record %s targets unknown chain %s", rec.ID(), data.ChainID)
		return
	}

	if timeRes := s.validator.ValidateReceptionTime(rec, delivery.ArrivalTick, s.params); timeRes.ShouldReject {
		s.countValidation(timeRes.Code)
		s.transfersRejected++
		s.broadcastRejection(node, rec, string(timeRes.Code), tick)
		return
	}

	secRes := s.validator.ValidateSecurity(rec, c, s.ledger, tick)
	s.countValidation(secRes.Code)
	if !secRes.Valid {
		s.transfersRejected++
		if secRes.Code == validator.CodeDoubleSpendDetected {
			s.recordConflict(c.ID(), rec)
			s.broadcastForkWarning(node, c, rec, tick)
		}
		return
	}

	if err := c.Append(rec); err != nil {
		s.countValidation(validator.CodePositionConflict)
		s.transfersRejected++
		return
	}
	s.mgr.ApplyAcceptedTransfer(c.ID())
	s.transfersAccepted++
	if s.metrics != nil {
		s.metrics.TransfersAccepted.Inc()
	}
	s.pending = append(s.pending, pendingTransfer{
		rec:         rec,
		chainID:     c.ID(),
		receiveTick: delivery.ArrivalTick,
	})
}

// handleForkWarning applies a routed fork warning to the ledger and
// remembers it for confirmation adjudication.
func (s *Simulation) handleForkWarning(delivery network.Delivery, tick uint64) {
	msg := delivery.Message
	if _, seen := s.seenWarnings[msg.ID]; seen {
		return
	}
	s.seenWarnings[msg.ID] = struct{}{}

	if _, err := s.ledger.ProcessHighPrioritySecurityMessage(msg, tick); err != nil {
		s.logger.Printf("fork warning %s: %v", msg.ID, err)
		return
	}
	if warning, ok := msg.Data.(security.ForkWarning); ok {
		s.warnings = append(s.warnings, validator.Warning{
			Tick:     warning.Timestamp,
			RecordID: warning.ForkDetails.RecordID,
			ChainID:  warning.ForkDetails.ChainID,
		})
	}
	if s.metrics != nil {
		s.metrics.ForkWarnings.Inc()
	}
}

// samplePayments asks the controller for this tick's transfer attempts
// and broadcasts every produced record from a random origin node.
func (s *Simulation) samplePayments(tick uint64) {
	for _, attempt := range s.controller.ProcessTick(tick) {
		if s.metrics != nil {
			s.metrics.TransfersAttempted.Inc()
		}
		if attempt.Record == nil {
			continue
		}
		origin := s.nodes[s.rng.Intn(len(s.nodes))]
		msg := network.NewMessage(network.MsgBlockBroadcast, BlockBroadcastData{
			Record:  attempt.Record,
			ChainID: attempt.ChainID,
		}, tick, origin.ID())
		if _, err := s.router.Broadcast(msg, origin.ID(), tick); err != nil {
			s.logger.Printf("broadcast transfer %s: %v", attempt.RecordID, err)
			continue
		}
		// The origin adjudicates its own copy immediately.
		s.handleBlockBroadcast(origin, network.Delivery{
			Message:     msg,
			Sender:      origin.ID(),
			ArrivalTick: tick,
		}, tick)
	}
}

// reviewPending re-checks accepted transfers against their confirmation
// windows.
func (s *Simulation) reviewPending(tick uint64) {
	var still []pendingTransfer
	for _, p := range s.pending {
		res := s.validator.ValidateReceptionConfirmation(
			p.rec, p.receiveTick, tick, s.params,
			s.conflictsByChain[p.chainID], s.warnings,
		)
		switch {
		case res.Pending():
			still = append(still, p)
		case res.Valid:
			s.transfersConfirmed++
			if s.metrics != nil {
				s.metrics.TransfersConfirmed.Inc()
			}
		default:
			s.transfersRejected++
			s.countValidation(res.Code)
			s.logger.Printf("transfer %s invalidated in confirmation window: %s", p.rec.ID(), res.Code)
		}
	}
	s.pending = still
}

// recordConflict remembers a rejected double-spend record so pending
// confirmations on the same chain can see it.
func (s *Simulation) recordConflict(chainID string, rec *record.Record) {
	s.conflictsByChain[chainID] = append(s.conflictsByChain[chainID], rec)
}

// broadcastForkWarning floods a fork warning for a rejected double
// spend from the node that detected it.
func (s *Simulation) broadcastForkWarning(node *network.Node, c *chain.Chain, rec *record.Record, tick uint64) {
	report := s.validator.DetectDoubleSpend(rec, c)
	warning := s.ledger.GenerateForkWarning(security.ForkDetails{
		Reason:         security.ReasonDoubleSpend,
		ChainID:        c.ID(),
		RecordID:       rec.ID(),
		PrevID:         rec.PrevID(),
		Attacker:       report.Attacker,
		ConflictingIDs: report.ConflictingRecords,
		Tick:           tick,
	})
	warning.Source = node.ID()
	s.seenWarnings[warning.ID] = struct{}{}
	s.warnings = append(s.warnings, validator.Warning{
		Tick:     tick,
		RecordID: rec.ID(),
		ChainID:  c.ID(),
	})
	if s.metrics != nil {
		s.metrics.ForkWarnings.Inc()
	}
	if _, err := s.router.Broadcast(warning, node.ID(), tick); err != nil {
		s.logger.Printf("broadcast fork warning for %s: %v", rec.ID(), err)
	}
}

// broadcastRejection floods a rejection notification for a record that
// failed reception-time validation. Rejection records never enter a
// chain log; they only ride these messages.
func (s *Simulation) broadcastRejection(node *network.Node, rec *record.Record, reason string, tick uint64) {
	rejection := &record.RejectionPayload{
		RejectedID: rec.ID(),
		Reason:     reason,
		Rejector:   node.PublicHex(),
		Tick:       tick,
	}
	msg := network.NewMessage(network.MsgRejectionNotice, RejectionData{Rejection: rejection}, tick, node.ID())
	if _, err := s.router.Broadcast(msg, node.ID(), tick); err != nil {
		s.logger.Printf("broadcast rejection for %s: %v", rec.ID(), err)
	}
}

func (s *Simulation) countValidation(code validator.Code) {
	if s.metrics != nil {
		s.metrics.RecordsValidated.WithLabelValues(string(code)).Inc()
	}
}

func (s *Simulation) setHealth(subsystem string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health[subsystem] && !ok {
		s.logger.Printf("subsystem %s marked unhealthy", subsystem)
	}
	s.health[subsystem] = ok
}

// Flush persists chains, the owner index and new security events to the
// archive. A failed flush marks the archive unhealthy but does not stop
// the simulation.
func (s *Simulation) Flush() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveChains(s.mgr.Chains()); err != nil {
		s.setHealth("archive", false)
		return err
	}
	if err := s.store.SaveOwnerIndex(s.mgr.OwnerIndex()); err != nil {
		s.setHealth("archive", false)
		return err
	}
	events := s.ledger.Events()
	if len(events) > s.flushedEvents {
		if err := s.store.AppendSecurityEvents(events[s.flushedEvents:]); err != nil {
			s.setHealth("archive", false)
			return err
		}
		s.flushedEvents = len(events)
	}
	return nil
}

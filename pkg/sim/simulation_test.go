// Copyright 2025 Certen Protocol
//
// End-to-end tests for the simulation: provisioning, tick-driven
// transfers, double-spend handling, snapshots

package sim

import (
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/saintthor/chainsim/pkg/archive"
	"github.com/saintthor/chainsim/pkg/config"
	"github.com/saintthor/chainsim/pkg/kvdb"
	"github.com/saintthor/chainsim/pkg/network"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/user"
)

func testConfig() *config.Config {
	return &config.Config{
		NodeCount:       6,
		ConnectionCount: 2,
		FailureRate:     0,
		TickInterval:    time.Millisecond,
		MinDelay:        1,
		MaxDelay:        3,
		MessageMaxAge:   100,
		UserCount:       4,
		PaymentRate:     0.5,
		CacheTTL:        time.Minute,
		ReapInterval:    time.Minute,
		Seed:            7,
		MaxTicks:        100,
	}
}

func testSim(t *testing.T) *Simulation {
	t.Helper()
	s, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.Provision([]byte(`{"ranges": [{"start": 1, "end": 8, "value": 10}]}`)); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return s
}

func TestSimulationRunsTransfers(t *testing.T) {
	s := testSim(t)
	s.RunTicks(60)

	snap := s.Snapshot()
	if snap.Network.Tick != 60 {
		t.Fatalf("Expected tick 60, got %d", snap.Network.Tick)
	}
	if snap.Chains.Chains != 8 {
		t.Fatalf("Expected 8 chains, got %d", snap.Chains.Chains)
	}
	if snap.Chains.TotalValue != 80 {
		t.Errorf("Expected total value 80, got %d", snap.Chains.TotalValue)
	}
	if snap.Security.TransfersAccepted == 0 {
		t.Error("With payment rate 0.5 transfers must land within 60 ticks")
	}
	if snap.Network.Router.Delivered == 0 {
		t.Error("Broadcasts must reach node inboxes")
	}

	report := s.Manager().ValidateIntegrity(s.Validator())
	if len(report.Failures) != 0 {
		t.Errorf("Ledger must stay consistent: %v", report.Failures)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Owner index must track the logs: %v", report.Warnings)
	}
	if !snap.Health["cache"] {
		t.Error("Cache must stay healthy")
	}
}

func TestSimulationBlacklistsDoubleSpender(t *testing.T) {
	s := testSim(t)
	s.RunTicks(2)

	// Find a chain and its owner, then craft two conflicting transfers
	// extending the same predecessor.
	chains := s.Manager().Chains()
	c := chains[0]
	owner, ok := s.Manager().UserByPub(c.CurrentOwner())
	if !ok {
		t.Fatal("Chain owner must be a managed user")
	}
	var targetA, targetB *user.User
	for _, u := range s.Manager().Users() {
		if u.ID() == owner.ID() {
			continue
		}
		if targetA == nil {
			targetA = u
		} else if targetB == nil {
			targetB = u
		}
	}

	prevID := c.Latest().ID()
	tv, err := owner.CreateTransferRecord(c.ID(), targetA.PublicHex(), prevID, 3)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	tw, err := owner.CreateTransferRecord(c.ID(), targetB.PublicHex(), prevID, 3)
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}

	node, _ := s.Router().Node("node-0")
	deliver := func(rec *record.Record) {
		msg := network.NewMessage(network.MsgBlockBroadcast, BlockBroadcastData{
			Record:  rec,
			ChainID: c.ID(),
		}, 3, node.ID())
		s.handleBlockBroadcast(node, network.Delivery{
			Message:     msg,
			Sender:      node.ID(),
			ArrivalTick: 3,
		}, 3)
	}

	deliver(tv)
	if c.CurrentOwner() != targetA.PublicHex() {
		t.Fatal("First transfer must be accepted")
	}
	deliver(tw)
	if c.CurrentOwner() != targetA.PublicHex() {
		t.Fatal("Conflicting transfer must not change ownership")
	}

	if !s.Ledger().IsBlacklisted(owner.PublicHex()) {
		t.Error("Double spender must be blacklisted")
	}
	snap := s.Snapshot()
	if snap.Security.BlacklistSize != 1 {
		t.Errorf("Expected blacklist size 1, got %d", snap.Security.BlacklistSize)
	}
	if snap.Security.TransfersRejected == 0 {
		t.Error("The conflicting transfer must count as rejected")
	}
}

func TestSimulationFlushesArchive(t *testing.T) {
	store, err := archive.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()), nil)
	if err != nil {
		t.Fatalf("archive.NewStore: %v", err)
	}
	s, err := New(testConfig(), &Options{Store: store})
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.Provision([]byte(`{"ranges": [{"start": 1, "end": 4, "value": 25}]}`)); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	s.RunTicks(30)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	chains, err := store.LoadChains()
	if err != nil {
		t.Fatalf("LoadChains: %v", err)
	}
	if len(chains) != 4 {
		t.Fatalf("Expected 4 archived chains, got %d", len(chains))
	}
	index, err := store.LoadOwnerIndex()
	if err != nil {
		t.Fatalf("LoadOwnerIndex: %v", err)
	}
	for _, c := range chains {
		userID, ok := index[c.ID()]
		if !ok {
			t.Errorf("Chain %s missing from the archived index", c.ID())
			continue
		}
		u, ok := s.Manager().User(userID)
		if !ok || u.PublicHex() != c.CurrentOwner() {
			t.Errorf("Archived index disagrees with chain %s", c.ID())
		}
	}
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	s := testSim(t)
	s.RunTicks(5)

	snap := s.Snapshot()
	snap.Chains.OwnerDistribution["intruder"] = 99
	snap.Health["cache"] = false

	again := s.Snapshot()
	if _, ok := again.Chains.OwnerDistribution["intruder"]; ok {
		t.Error("Mutating a snapshot must not leak into the simulation")
	}
	if !again.Health["cache"] {
		t.Error("Snapshot health map must be a copy")
	}
}

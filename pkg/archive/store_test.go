// Copyright 2025 Certen Protocol
//
// Unit tests for the KV-backed archive store

package archive

import (
	"bytes"
	"errors"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/keys"
	"github.com/saintthor/chainsim/pkg/kvdb"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/security"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func archivedChain(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := chain.NewFromRoot("defhash", 3, 50, 0)
	if err != nil {
		t.Fatalf("NewFromRoot: %v", err)
	}
	owner, _ := keys.Generate()
	if _, err := c.CreateOwnership(owner, 1); err != nil {
		t.Fatalf("CreateOwnership: %v", err)
	}
	next, _ := keys.Generate()
	rec, err := record.New(&record.TransferPayload{
		ChainID:   c.ID(),
		NextOwner: next.PublicHex(),
		PrevID:    c.Latest().ID(),
	}, c.Latest().ID(), owner.PublicHex(), 2)
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}
	if err := rec.SignWith(owner); err != nil {
		t.Fatalf("sign transfer: %v", err)
	}
	if err := c.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	return c
}

func TestChainRoundTripPreservesIdentity(t *testing.T) {
	s := memStore(t)
	c := archivedChain(t)

	if err := s.SaveChain(c); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	restored, err := s.LoadChain(c.ID())
	if err != nil {
		t.Fatalf("LoadChain: %v", err)
	}

	if restored.ID() != c.ID() {
		t.Error("Chain id must survive the round trip")
	}
	orig := c.WalkToRoot()
	back := restored.WalkToRoot()
	if len(orig) != len(back) {
		t.Fatalf("Expected %d records, got %d", len(orig), len(back))
	}
	for i := range orig {
		if orig[i].ID() != back[i].ID() {
			t.Errorf("record %d: id changed across the round trip", i)
		}
		if !bytes.Equal(orig[i].Signature(), back[i].Signature()) {
			t.Errorf("record %d: signature changed across the round trip", i)
		}
	}
}

func TestSaveChainIsIdempotentInList(t *testing.T) {
	s := memStore(t)
	c := archivedChain(t)

	if err := s.SaveChain(c); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	if err := s.SaveChain(c); err != nil {
		t.Fatalf("second SaveChain: %v", err)
	}
	chains, err := s.LoadChains()
	if err != nil {
		t.Fatalf("LoadChains: %v", err)
	}
	if len(chains) != 1 {
		t.Fatalf("Expected one archived chain, got %d", len(chains))
	}
}

func TestLoadMissingChain(t *testing.T) {
	s := memStore(t)
	if _, err := s.LoadChain("nope"); !errors.Is(err, ErrChainNotArchived) {
		t.Errorf("Expected ErrChainNotArchived, got %v", err)
	}
}

func TestOwnerIndexRoundTrip(t *testing.T) {
	s := memStore(t)
	index := map[string]string{"chain-1": "user-a", "chain-2": "user-b"}

	if err := s.SaveOwnerIndex(index); err != nil {
		t.Fatalf("SaveOwnerIndex: %v", err)
	}
	restored, err := s.LoadOwnerIndex()
	if err != nil {
		t.Fatalf("LoadOwnerIndex: %v", err)
	}
	if len(restored) != 2 || restored["chain-1"] != "user-a" || restored["chain-2"] != "user-b" {
		t.Errorf("Index changed across the round trip: %v", restored)
	}

	empty := memStore(t)
	if _, err := empty.LoadOwnerIndex(); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}
}

func TestSecurityJournalAppendAndLoad(t *testing.T) {
	s := memStore(t)

	first := []security.Event{
		{ID: "1", Type: security.EventBlacklisted, Tick: 5, Subject: "a"},
		{ID: "2", Type: security.EventForkWarning, Tick: 6, Subject: "r"},
	}
	if err := s.AppendSecurityEvents(first); err != nil {
		t.Fatalf("AppendSecurityEvents: %v", err)
	}
	second := []security.Event{
		{ID: "3", Type: security.EventUnblacklisted, Tick: 9, Subject: "a"},
	}
	if err := s.AppendSecurityEvents(second); err != nil {
		t.Fatalf("second append: %v", err)
	}

	count, err := s.SecurityEventCount()
	if err != nil {
		t.Fatalf("SecurityEventCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 journal entries, got %d", count)
	}

	events, err := s.LoadSecurityEvents()
	if err != nil {
		t.Fatalf("LoadSecurityEvents: %v", err)
	}
	for i, id := range []string{"1", "2", "3"} {
		if events[i].ID != id {
			t.Errorf("entry %d: expected id %s, got %s", i, id, events[i].ID)
		}
	}
}

// Copyright 2025 Certen Protocol
//
// Archive Store - KV-backed snapshots of chains and security state
//
// The archive persists chain logs, the owner index and the security
// event journal into a key-value store. Round-trips preserve every
// record id and signature verbatim: chains are stored in their
// canonical serialized form and revalidated on load.
//
// CONCURRENCY: the store assumes single-writer access from the
// simulation flush path. Wrap it with your own synchronization if you
// need concurrent writers.

package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/security"
)

// KV defines the key-value store interface
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// ====== KV Key Layout ======

var (
	keyChainList  = []byte("archive:chains")          // -> []string of chain ids
	keyChainPfx   = []byte("archive:chain:")          // + chain id -> serialized chain
	keyOwnerIndex = []byte("archive:owner_index")     // -> map[chainID]userID
	keySecMeta    = []byte("archive:security:meta")   // -> journalMeta
	keySecEvtPfx  = []byte("archive:security:event:") // + big-endian seq -> security.Event
)

// journalMeta tracks the security event journal length.
type journalMeta struct {
	Count uint64 `json:"count"`
}

func chainKey(id string) []byte {
	return append(append([]byte(nil), keyChainPfx...), id...)
}

func eventKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return append(append([]byte(nil), keySecEvtPfx...), b...)
}

// Store provides high-level archive access over a KV backend.
type Store struct {
	kv     KV
	logger *log.Logger
}

// NewStore creates a store over the given KV backend.
func NewStore(kv KV, logger *log.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv backend is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Archive] ", log.LstdFlags)
	}
	return &Store{kv: kv, logger: logger}, nil
}

// ====== Chains ======

// SaveChain persists one chain under its id and adds it to the chain
// list.
func (s *Store) SaveChain(c *chain.Chain) error {
	if c == nil {
		return fmt.Errorf("chain cannot be nil")
	}
	data, err := c.Serialize()
	if err != nil {
		return fmt.Errorf("serialize chain %s: %w", c.ID(), err)
	}
	if err := s.kv.Set(chainKey(c.ID()), data); err != nil {
		return fmt.Errorf("store chain %s: %w", c.ID(), err)
	}

	ids, err := s.chainIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == c.ID() {
			return nil
		}
	}
	ids = append(ids, c.ID())
	return s.saveChainIDs(ids)
}

// LoadChain restores a chain by id, replaying its log so every
// invariant is revalidated.
func (s *Store) LoadChain(id string) (*chain.Chain, error) {
	data, err := s.kv.Get(chainKey(id))
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChainNotArchived, id)
	}
	return chain.Deserialize(data)
}

// SaveChains persists a batch of chains.
func (s *Store) SaveChains(chains []*chain.Chain) error {
	for _, c := range chains {
		if err := s.SaveChain(c); err != nil {
			return err
		}
	}
	return nil
}

// LoadChains restores every archived chain.
func (s *Store) LoadChains() ([]*chain.Chain, error) {
	ids, err := s.chainIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*chain.Chain, 0, len(ids))
	for _, id := range ids {
		c, err := s.LoadChain(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) chainIDs() ([]string, error) {
	data, err := s.kv.Get(keyChainList)
	if err != nil {
		return nil, fmt.Errorf("load chain list: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode chain list: %w", err)
	}
	return ids, nil
}

func (s *Store) saveChainIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode chain list: %w", err)
	}
	return s.kv.Set(keyChainList, data)
}

// ====== Owner index ======

// SaveOwnerIndex persists the chain id -> user id index.
func (s *Store) SaveOwnerIndex(index map[string]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode owner index: %w", err)
	}
	return s.kv.Set(keyOwnerIndex, data)
}

// LoadOwnerIndex restores the owner index.
func (s *Store) LoadOwnerIndex() (map[string]string, error) {
	data, err := s.kv.Get(keyOwnerIndex)
	if err != nil {
		return nil, fmt.Errorf("load owner index: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrIndexNotFound
	}
	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode owner index: %w", err)
	}
	return index, nil
}

// ====== Security journal ======

// AppendSecurityEvents writes new journal entries after the current
// tail and advances the journal meta.
func (s *Store) AppendSecurityEvents(events []security.Event) error {
	if len(events) == 0 {
		return nil
	}
	meta, err := s.loadJournalMeta()
	if err != nil {
		return err
	}
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode security event %s: %w", ev.ID, err)
		}
		if err := s.kv.Set(eventKey(meta.Count+uint64(i)), data); err != nil {
			return fmt.Errorf("store security event %s: %w", ev.ID, err)
		}
	}
	meta.Count += uint64(len(events))
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode journal meta: %w", err)
	}
	return s.kv.Set(keySecMeta, data)
}

// SecurityEventCount returns the journal length.
func (s *Store) SecurityEventCount() (uint64, error) {
	meta, err := s.loadJournalMeta()
	if err != nil {
		return 0, err
	}
	return meta.Count, nil
}

// LoadSecurityEvents restores the whole journal in order.
func (s *Store) LoadSecurityEvents() ([]security.Event, error) {
	meta, err := s.loadJournalMeta()
	if err != nil {
		return nil, err
	}
	out := make([]security.Event, 0, meta.Count)
	for seq := uint64(0); seq < meta.Count; seq++ {
		data, err := s.kv.Get(eventKey(seq))
		if err != nil {
			return nil, fmt.Errorf("load security event %d: %w", seq, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("security event %d missing from journal", seq)
		}
		var ev security.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode security event %d: %w", seq, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) loadJournalMeta() (*journalMeta, error) {
	data, err := s.kv.Get(keySecMeta)
	if err != nil {
		return nil, fmt.Errorf("load journal meta: %w", err)
	}
	if len(data) == 0 {
		return &journalMeta{}, nil
	}
	var meta journalMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode journal meta: %w", err)
	}
	return &meta, nil
}

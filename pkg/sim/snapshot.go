// Copyright 2025 Certen Protocol
//
// Snapshots - immutable aggregated views for external consumers
//
// External surfaces read the simulation through these value types only;
// nothing here aliases live state.

package sim

import (
	"github.com/saintthor/chainsim/pkg/network"
)

// NetworkStatus is the aggregated transport view.
type NetworkStatus struct {
	Tick            uint64              `json:"tick"`
	Nodes           int                 `json:"nodes"`
	Connections     int                 `json:"connections"` // directed edges
	PendingMessages int                 `json:"pending_messages"`
	Router          network.RouterStats `json:"router"`
}

// ChainStats is the aggregated ledger view.
type ChainStats struct {
	Chains            int            `json:"chains"`
	TotalTransfers    int            `json:"total_transfers"`
	TotalValue        uint64         `json:"total_value"`
	OwnerDistribution map[string]int `json:"owner_distribution"` // user id -> chains
}

// SecurityStats is the aggregated security view.
type SecurityStats struct {
	BlacklistSize        int    `json:"blacklist_size"`
	Events               int    `json:"events"`
	PendingConfirmations int    `json:"pending_confirmations"`
	TransfersAccepted    uint64 `json:"transfers_accepted"`
	TransfersConfirmed   uint64 `json:"transfers_confirmed"`
	TransfersRejected    uint64 `json:"transfers_rejected"`
}

// Snapshot is one consistent read of all aggregated views.
type Snapshot struct {
	Network  NetworkStatus   `json:"network"`
	Chains   ChainStats      `json:"chains"`
	Security SecurityStats   `json:"security"`
	Health   map[string]bool `json:"health"`
}

// Snapshot builds an immutable aggregate of the current state.
func (s *Simulation) Snapshot() Snapshot {
	connections := 0
	for _, node := range s.nodes {
		connections += len(node.Peers())
	}

	chains := s.mgr.Chains()
	stats := ChainStats{
		Chains:            len(chains),
		OwnerDistribution: make(map[string]int),
	}
	for _, c := range chains {
		stats.TotalTransfers += len(c.Transfers())
		stats.TotalValue += c.Value()
	}
	for _, userID := range s.mgr.OwnerIndex() {
		stats.OwnerDistribution[userID]++
	}

	s.mu.Lock()
	health := make(map[string]bool, len(s.health))
	for k, v := range s.health {
		health[k] = v
	}
	s.mu.Unlock()

	return Snapshot{
		Network: NetworkStatus{
			Tick:            s.clock.Current(),
			Nodes:           len(s.nodes),
			Connections:     connections,
			PendingMessages: s.router.PendingCount(),
			Router:          s.router.Stats(),
		},
		Chains: stats,
		Security: SecurityStats{
			BlacklistSize:        s.ledger.BlacklistSize(),
			Events:               s.ledger.EventCount(),
			PendingConfirmations: len(s.pending),
			TransfersAccepted:    s.transfersAccepted,
			TransfersConfirmed:   s.transfersConfirmed,
			TransfersRejected:    s.transfersRejected,
		},
		Health: health,
	}
}

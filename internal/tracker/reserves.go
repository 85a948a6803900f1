package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// ReserveTable caches per-asset reserve configuration. Entries are fetched on
// first use and kept until Reload.
type ReserveTable struct {
	protocol domain.ProtocolReader

	mu      sync.RWMutex
	configs map[common.Address]domain.ReserveConfig
	assets  []common.Address
}

// NewReserveTable creates an empty table backed by protocol.
func NewReserveTable(protocol domain.ProtocolReader) *ReserveTable {
	return &ReserveTable{
		protocol: protocol,
		configs:  make(map[common.Address]domain.ReserveConfig),
	}
}

// Load fetches the reserve list and every reserve's configuration.
func (t *ReserveTable) Load(ctx context.Context) error {
	assets, err := t.protocol.ReadReservesList(ctx)
	if err != nil {
		return fmt.Errorf("tracker: read reserves list: %w", err)
	}
	configs := make(map[common.Address]domain.ReserveConfig, len(assets))
	for _, asset := range assets {
		cfg, err := t.protocol.ReadReserveConfig(ctx, asset)
		if err != nil {
			return fmt.Errorf("tracker: read reserve config %s: %w", asset.Hex(), err)
		}
		cfg.Asset = asset
		configs[asset] = cfg
	}

	t.mu.Lock()
	t.configs = configs
	t.assets = assets
	t.mu.Unlock()
	return nil
}

// Reload drops every cached entry and loads the table again.
func (t *ReserveTable) Reload(ctx context.Context) error {
	t.mu.Lock()
	t.configs = make(map[common.Address]domain.ReserveConfig)
	t.assets = nil
	t.mu.Unlock()
	return t.Load(ctx)
}

// Get returns the configuration for asset, reading it from the protocol on a
// cache miss.
func (t *ReserveTable) Get(ctx context.Context, asset common.Address) (domain.ReserveConfig, error) {
	t.mu.RLock()
	cfg, ok := t.configs[asset]
	t.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := t.protocol.ReadReserveConfig(ctx, asset)
	if err != nil {
		return domain.ReserveConfig{}, fmt.Errorf("tracker: read reserve config %s: %w", asset.Hex(), err)
	}
	cfg.Asset = asset

	t.mu.Lock()
	t.configs[asset] = cfg
	t.mu.Unlock()
	return cfg, nil
}

// Lookup returns a cached configuration without reading the protocol.
func (t *ReserveTable) Lookup(asset common.Address) (domain.ReserveConfig, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.configs[asset]
	return cfg, ok
}

// Assets returns the reserve list captured by the last Load.
func (t *ReserveTable) Assets() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, len(t.assets))
	copy(out, t.assets)
	return out
}

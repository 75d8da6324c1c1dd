package market

import (
	"fmt"
	"sync"
)

type Slot int

const (
	SlotAssetAQuote Slot = iota
	SlotAssetBQuote
	SlotCross
)

// Pairs names the three books the strategy prices from.
type Pairs struct {
	AssetAQuote string
	AssetBQuote string
	Cross       string
}

func (p Pairs) Slot(pair string) (Slot, bool) {
	switch pair {
	case p.AssetAQuote:
		return SlotAssetAQuote, true
	case p.AssetBQuote:
		return SlotAssetBQuote, true
	case p.Cross:
		return SlotCross, true
	}
	return 0, false
}

func (p Pairs) List() []string {
	return []string{p.AssetAQuote, p.AssetBQuote, p.Cross}
}

// Prices is a copy of the cache. A slot is only meaningful when its Has flag
// is set.
type Prices struct {
	AssetAQuote    float64
	HasAssetAQuote bool
	AssetBQuote    float64
	HasAssetBQuote bool
	Cross          float64
	HasCross       bool
}

func (p Prices) Complete() bool {
	return p.HasAssetAQuote && p.HasAssetBQuote && p.HasCross
}

type PriceCache struct {
	mu     sync.RWMutex
	prices Prices
}

func NewPriceCache() *PriceCache {
	return &PriceCache{}
}

func (c *PriceCache) Snapshot() Prices {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices
}

func (c *PriceCache) set(mids map[Slot]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot, mid := range mids {
		switch slot {
		case SlotAssetAQuote:
			c.prices.AssetAQuote, c.prices.HasAssetAQuote = mid, true
		case SlotAssetBQuote:
			c.prices.AssetBQuote, c.prices.HasAssetBQuote = mid, true
		case SlotCross:
			c.prices.Cross, c.prices.HasCross = mid, true
		}
	}
}

// UpdatePrices writes the mid of every known pair in books into cache. Books
// for unknown pairs are ignored. If any known book has an empty side nothing
// is written and the error names the pair.
func UpdatePrices(cache *PriceCache, pairs Pairs, books map[string]Book) error {
	mids := make(map[Slot]float64, 3)
	for pair, book := range books {
		slot, ok := pairs.Slot(pair)
		if !ok {
			continue
		}
		mid, err := book.Mid()
		if err != nil {
			return fmt.Errorf("book %s: %w", pair, err)
		}
		mids[slot] = mid.InexactFloat64()
	}
	cache.set(mids)
	return nil
}

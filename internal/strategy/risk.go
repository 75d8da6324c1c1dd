package strategy

import (
	"errors"
	"fmt"
	"time"

	"kraken-hop-bot/internal/config"
)

var (
	ErrBookStale     = errors.New("order book feed stale")
	ErrOrderTooSmall = errors.New("order volume below minimum")
)

func CheckRisk(cfg config.RiskConfig, decision HopDecision) error {
	if cfg.MinOrderVolume > 0 && decision.Volume.InexactFloat64() < cfg.MinOrderVolume {
		return fmt.Errorf("volume %s below %g: %w", decision.Volume, cfg.MinOrderVolume, ErrOrderTooSmall)
	}
	return nil
}

// CheckConnectivity rejects decisions taken on books older than MaxBookAge.
// A zero lastUpdate means no book has arrived yet.
func CheckConnectivity(cfg config.RiskConfig, lastUpdate, now time.Time) error {
	if cfg.MaxBookAge <= 0 {
		return nil
	}
	if lastUpdate.IsZero() {
		return fmt.Errorf("no book update received: %w", ErrBookStale)
	}
	if age := now.Sub(lastUpdate); age > cfg.MaxBookAge {
		return fmt.Errorf("book age %s exceeds %s: %w", age, cfg.MaxBookAge, ErrBookStale)
	}
	return nil
}

package market

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// bookMessage is one Kraken v1 book frame. Snapshot frames carry "as"/"bs",
// updates carry "a" and/or "b".
type bookMessage struct {
	Pair     string
	Channel  string
	Snapshot bool
	Asks     []bookLevel
	Bids     []bookLevel
}

type bookLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

type eventMessage struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name  string `json:"name"`
		Depth int    `json:"depth"`
	} `json:"subscription"`
}

func isEventFrame(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func parseEvent(raw []byte) (eventMessage, error) {
	var evt eventMessage
	if err := json.Unmarshal(raw, &evt); err != nil {
		return eventMessage{}, err
	}
	return evt, nil
}

// parseBookMessage decodes [channelID, payload..., channelName, pair]. ok is
// false for array frames that are not book frames.
func parseBookMessage(raw []byte) (bookMessage, bool, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return bookMessage{}, false, err
	}
	if len(parts) < 4 {
		return bookMessage{}, false, fmt.Errorf("book frame has %d elements", len(parts))
	}
	var msg bookMessage
	if err := json.Unmarshal(parts[len(parts)-2], &msg.Channel); err != nil {
		return bookMessage{}, false, fmt.Errorf("channel name: %w", err)
	}
	if !strings.HasPrefix(msg.Channel, "book") {
		return bookMessage{}, false, nil
	}
	if err := json.Unmarshal(parts[len(parts)-1], &msg.Pair); err != nil {
		return bookMessage{}, false, fmt.Errorf("pair: %w", err)
	}
	for _, part := range parts[1 : len(parts)-2] {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(part, &payload); err != nil {
			return bookMessage{}, false, fmt.Errorf("book payload: %w", err)
		}
		for key, levels := range payload {
			switch key {
			case "as", "bs", "a", "b":
			default:
				continue
			}
			parsed, err := parseLevels(levels)
			if err != nil {
				return bookMessage{}, false, fmt.Errorf("%s levels: %w", key, err)
			}
			switch key {
			case "as":
				msg.Snapshot = true
				msg.Asks = append(msg.Asks, parsed...)
			case "bs":
				msg.Snapshot = true
				msg.Bids = append(msg.Bids, parsed...)
			case "a":
				msg.Asks = append(msg.Asks, parsed...)
			case "b":
				msg.Bids = append(msg.Bids, parsed...)
			}
		}
	}
	return msg, true, nil
}

// parseLevels reads [price, volume, timestamp, ("r")] entries. Only price and
// volume are kept.
func parseLevels(raw json.RawMessage) ([]bookLevel, error) {
	var entries [][]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	levels := make([]bookLevel, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			return nil, errors.New("level needs price and volume")
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", entry[0], err)
		}
		volume, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("volume %q: %w", entry[1], err)
		}
		levels = append(levels, bookLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

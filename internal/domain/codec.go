package domain

import (
	"encoding/json"
	"fmt"
)

// Persistence keys for the two blobs the engine owns.
const (
	LedgerKey   = "exerciseProgress"
	WellnessKey = "mentalWellnessProgress"
)

// EncodeLedger serialises state to JSON.
func EncodeLedger(state LedgerState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// DecodeLedger parses a blob written by EncodeLedger and validates it.
func DecodeLedger(data []byte) (LedgerState, error) {
	var state LedgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return LedgerState{}, fmt.Errorf("decode ledger: %w", err)
	}
	if err := state.Validate(); err != nil {
		return LedgerState{}, err
	}
	return state, nil
}

// EncodeWellness serialises the wellness map to JSON.
func EncodeWellness(progress WellnessProgress) ([]byte, error) {
	data, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("encode wellness: %w", err)
	}
	return data, nil
}

// DecodeWellness parses a blob written by EncodeWellness. Fractions outside
// [0, 1] and non-wellness categories are rejected.
func DecodeWellness(data []byte) (WellnessProgress, error) {
	progress := WellnessProgress{}
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("decode wellness: %w", err)
	}
	for c, v := range progress {
		if c.Kind() != KindWellness {
			return nil, fmt.Errorf("%w: %q is not a wellness type", ErrInvalidState, c)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: %q fraction %v out of range", ErrInvalidState, c, v)
		}
	}
	return progress, nil
}

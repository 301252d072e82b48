package models

import (
	"encoding/json"
	"time"
)

// Block is one block of the record stream, records in chain order.
type Block struct {
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Records   []Record  `json:"records"`
}

// Record is a call or event as delivered by the upstream codec: a kind name,
// a runtime version tag and the payload shaped by that version.
type Record struct {
	ID            string          `json:"id"`
	ExtrinsicID   string          `json:"extrinsic_id,omitempty"`
	ExtrinsicHash string          `json:"extrinsic_hash,omitempty"`
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	Origin        json.RawMessage `json:"origin,omitempty"`
	Success       bool            `json:"success"`
}

// Snapshot is one storage item value at a height, as imported by the seeder.
type Snapshot struct {
	Height uint64          `json:"height"`
	Item   string          `json:"item"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// GenesisAccount seeds an account's bonded total before the first block.
type GenesisAccount struct {
	ID         string `json:"id"`
	ActiveBond string `json:"active_bond"`
}

package model

import "time"

// SymbolStatus is the lifecycle state of a tradable instrument.
// Symbols are never physically deleted; delisting is a status change.
type SymbolStatus string

const (
	SymbolActive   SymbolStatus = "ACTIVE"
	SymbolDelisted SymbolStatus = "DELISTED"
)

// Symbol is the canonical identity of a tradable instrument.
// All bars, snapshots and ledger rows reference it by identifier.
type Symbol struct {
	Symbol    string       `json:"symbol"`
	Name      string       `json:"name"`
	Market    string       `json:"market"`
	AssetType string       `json:"asset_type"`
	Status    SymbolStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SymbolPatch is a partial metadata update; nil fields are left unchanged.
type SymbolPatch struct {
	Name      *string `json:"name,omitempty"`
	Market    *string `json:"market,omitempty"`
	AssetType *string `json:"asset_type,omitempty"`
}

// ChangeKind labels a registry change event.
type ChangeKind string

const (
	ChangeRegistered  ChangeKind = "REGISTERED"
	ChangeUpdated     ChangeKind = "UPDATED"
	ChangeDeactivated ChangeKind = "DEACTIVATED"
)

// ChangeEvent is emitted by the registry on every mutation.
// Nothing in this module consumes it; external analytics may subscribe.
type ChangeEvent struct {
	Symbol string
	Kind   ChangeKind
	At     time.Time
}

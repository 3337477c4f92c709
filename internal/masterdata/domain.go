// Package masterdata exposes the read-only lookups the posting core
// consumes: chart-of-accounts attributes and the ledger account linked
// to a customer, vendor, bank account or item. Master-data writes live
// in external CRUD services.
package masterdata

import (
	"context"
	"errors"
)

// Account is a chart-of-accounts node as seen by the posting core.
type Account struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	IsLeaf          bool   `json:"isLeaf"`
	AllowManualPost bool   `json:"allowManualPost"`
}

// PartyKind identifies which master record a lookup targets.
type PartyKind string

const (
	PartyCustomer    PartyKind = "CUSTOMER"
	PartyVendor      PartyKind = "VENDOR"
	PartyBankAccount PartyKind = "BANK_ACCOUNT"
	PartyItem        PartyKind = "ITEM"
)

// Party is a customer/vendor/bank/item record reduced to the fields the
// core needs.
type Party struct {
	ID               string    `json:"id"`
	Kind             PartyKind `json:"kind"`
	Name             string    `json:"name"`
	LinkedCoaAccount string    `json:"linkedCoaAccount"`
}

var (
	// ErrAccountNotFound indicates a missing chart-of-accounts node.
	ErrAccountNotFound = errors.New("masterdata: account not found")
	// ErrPartyNotFound indicates a missing customer/vendor/bank/item record.
	ErrPartyNotFound = errors.New("masterdata: party not found")
	// ErrNoLinkedAccount indicates a party without a linked ledger account.
	ErrNoLinkedAccount = errors.New("masterdata: party has no linked ledger account")
)

// Lookup is the read-only port the posting core depends on.
type Lookup interface {
	Account(ctx context.Context, id string) (Account, error)
	Party(ctx context.Context, kind PartyKind, id string) (Party, error)
}

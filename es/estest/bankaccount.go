// Package estest provides a small but complete bank account domain. It
// exercises the whole persistence stack and doubles as the reference
// example for writing aggregates.
package estest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/mapper"
)

var (
	// ErrInsufficientFunds indicates a withdrawal exceeding the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountClosed indicates an operation on a closed account.
	ErrAccountClosed = errors.New("account closed")
)

// AccountOpened is the creation event of a bank account.
type AccountOpened struct {
	es.EventMeta
	FullName string `json:"full_name"`
}

// CashDeposited records money added to the account. Amounts are in cents.
type CashDeposited struct {
	es.EventMeta
	Amount int64 `json:"amount"`
}

// CashWithdrawn records money taken from the account.
type CashWithdrawn struct {
	es.EventMeta
	Amount int64 `json:"amount"`
}

// AccountClosed marks the end of the account's life. A closed account
// rejects all further operations.
type AccountClosed struct {
	es.EventMeta
}

// RegisterEvents binds the bank account topics into a registry.
func RegisterEvents(registry *mapper.Registry) {
	registry.RegisterEvent("BankAccount.Opened", func() es.DomainEvent { return &AccountOpened{} })
	registry.RegisterEvent("BankAccount.CashDeposited", func() es.DomainEvent { return &CashDeposited{} })
	registry.RegisterEvent("BankAccount.CashWithdrawn", func() es.DomainEvent { return &CashWithdrawn{} })
	registry.RegisterEvent("BankAccount.Closed", func() es.DomainEvent { return &AccountClosed{} })
}

// NewMapper returns a mapper with all bank account topics registered.
func NewMapper(opts ...mapper.Option) *mapper.Mapper {
	registry := mapper.NewRegistry()
	RegisterEvents(registry)
	return mapper.New(registry, opts...)
}

// BankAccount is an event-sourced account with a balance in cents.
type BankAccount struct {
	es.Aggregate
	FullName string `json:"full_name"`
	Balance  int64  `json:"balance"`
	Closed   bool   `json:"closed"`
}

// OpenAccount creates a new account for the named holder.
func OpenAccount(fullName string) (*BankAccount, error) {
	a := &BankAccount{}
	event := &AccountOpened{EventMeta: es.NewEventMeta(uuid.New(), 1), FullName: fullName}
	if err := a.Trigger(a.Mutate, event); err != nil {
		return nil, err
	}
	return a, nil
}

// Deposit adds the amount to the balance.
func (a *BankAccount) Deposit(amount int64) error {
	if err := a.check(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	return a.Trigger(a.Mutate, &CashDeposited{EventMeta: a.NextMeta(), Amount: amount})
}

// Withdraw removes the amount from the balance. The decision is made
// against current state, before any event is recorded: an overdraft
// attempt changes nothing.
func (a *BankAccount) Withdraw(amount int64) error {
	if err := a.check(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %d", amount)
	}
	if amount > a.Balance {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, a.Balance, amount)
	}
	return a.Trigger(a.Mutate, &CashWithdrawn{EventMeta: a.NextMeta(), Amount: amount})
}

// Close ends the account's life.
func (a *BankAccount) Close() error {
	if err := a.check(); err != nil {
		return err
	}
	return a.Trigger(a.Mutate, &AccountClosed{EventMeta: a.NextMeta()})
}

func (a *BankAccount) check() error {
	if a.Closed {
		return fmt.Errorf("%w: %s", ErrAccountClosed, a.ID)
	}
	return nil
}

// Mutate implements es.Root.
func (a *BankAccount) Mutate(event es.DomainEvent) error {
	switch e := event.(type) {
	case *AccountOpened:
		if err := a.Advance(e.EventMeta); err != nil {
			return err
		}
		a.FullName = e.FullName
		return nil
	case *CashDeposited:
		if err := a.Advance(e.EventMeta); err != nil {
			return err
		}
		a.Balance += e.Amount
		return nil
	case *CashWithdrawn:
		if err := a.Advance(e.EventMeta); err != nil {
			return err
		}
		a.Balance -= e.Amount
		return nil
	case *AccountClosed:
		if err := a.Advance(e.EventMeta); err != nil {
			return err
		}
		a.Closed = true
		return nil
	default:
		return fmt.Errorf("bank account: unknown event %T", event)
	}
}

// MarshalSnapshot implements repository.Snapshottable.
func (a *BankAccount) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalSnapshot implements repository.Snapshottable.
func (a *BankAccount) UnmarshalSnapshot(state []byte) error {
	return json.Unmarshal(state, a)
}

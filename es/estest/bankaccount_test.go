package estest

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/adapters/memory"
	"github.com/getpup/pupflow/es/eventstore"
	"github.com/getpup/pupflow/es/repository"
)

// TestBankAccount_Lifecycle walks the account through its whole life and
// checks every decision against current state.
func TestBankAccount_Lifecycle(t *testing.T) {
	account, err := OpenAccount("Alice Example")
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	if account.AggregateVersion() != 1 {
		t.Errorf("version after open = %d, want 1", account.AggregateVersion())
	}
	if account.FullName != "Alice Example" {
		t.Errorf("full name = %q, want %q", account.FullName, "Alice Example")
	}

	if err := account.Deposit(200); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if account.Balance != 200 || account.AggregateVersion() != 2 {
		t.Errorf("after deposit: balance %d version %d, want 200/2", account.Balance, account.AggregateVersion())
	}

	if err := account.Withdraw(50); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if account.Balance != 150 || account.AggregateVersion() != 3 {
		t.Errorf("after withdrawal: balance %d version %d, want 150/3", account.Balance, account.AggregateVersion())
	}

	// An overdraft attempt fails and changes nothing.
	if err := account.Withdraw(151); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraft error = %v, want ErrInsufficientFunds", err)
	}
	if account.Balance != 150 || account.AggregateVersion() != 3 {
		t.Errorf("overdraft changed state: balance %d version %d", account.Balance, account.AggregateVersion())
	}

	if err := account.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if account.AggregateVersion() != 4 {
		t.Errorf("version after close = %d, want 4", account.AggregateVersion())
	}

	// A closed account rejects everything.
	if err := account.Deposit(10); !errors.Is(err, ErrAccountClosed) {
		t.Errorf("deposit on closed account error = %v, want ErrAccountClosed", err)
	}
	if err := account.Withdraw(10); !errors.Is(err, ErrAccountClosed) {
		t.Errorf("withdrawal on closed account error = %v, want ErrAccountClosed", err)
	}
	if err := account.Close(); !errors.Is(err, ErrAccountClosed) {
		t.Errorf("closing a closed account error = %v, want ErrAccountClosed", err)
	}

	if account.PendingCount() != 4 {
		t.Errorf("pending events = %d, want 4", account.PendingCount())
	}
}

func TestBankAccount_RejectsNonPositiveAmounts(t *testing.T) {
	account, err := OpenAccount("Bob Example")
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}

	for _, amount := range []int64{0, -5} {
		if err := account.Deposit(amount); err == nil {
			t.Errorf("Deposit(%d) succeeded", amount)
		}
		if err := account.Withdraw(amount); err == nil {
			t.Errorf("Withdraw(%d) succeeded", amount)
		}
	}
	if account.AggregateVersion() != 1 {
		t.Errorf("rejected amounts changed the version to %d", account.AggregateVersion())
	}
}

// TestBankAccount_SaveAndReconstruct persists the account and replays it
// back through the repository, with and without a snapshot in between.
func TestBankAccount_SaveAndReconstruct(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(NewMapper(), memory.NewStore())
	repo := repository.New(store, func() es.Root { return &BankAccount{} },
		repository.WithSnapshots(memory.NewStore(), "BankAccount.Snapshot"),
		repository.WithSnapshottingPolicy(repository.EveryN(2)))

	account, err := OpenAccount("Carol Example")
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	if err := account.Deposit(200); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := account.Withdraw(50); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if err := repo.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if account.PendingCount() != 0 {
		t.Errorf("pending events after save = %d, want 0", account.PendingCount())
	}

	root, err := repo.Get(ctx, account.AggregateID(), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := root.(*BankAccount)
	if got.Balance != 150 || got.AggregateVersion() != 3 || got.FullName != "Carol Example" {
		t.Errorf("reconstructed account = %+v, want balance 150 at version 3", got)
	}

	// Continue the life of the reconstructed instance.
	if err := got.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	root, err = repo.Get(ctx, got.AggregateID(), nil)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	final := root.(*BankAccount)
	if !final.Closed || final.AggregateVersion() != 4 {
		t.Errorf("final account = %+v, want closed at version 4", final)
	}
}

// TestBankAccount_ConcurrentWritersConflict checks that two instances of
// the same account cannot both commit version 2.
func TestBankAccount_ConcurrentWritersConflict(t *testing.T) {
	ctx := context.Background()
	store := eventstore.New(NewMapper(), memory.NewStore())
	repo := repository.New(store, func() es.Root { return &BankAccount{} })

	account, err := OpenAccount("Dave Example")
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	if err := repo.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	first, err := repo.Get(ctx, account.AggregateID(), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := repo.Get(ctx, account.AggregateID(), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := first.(*BankAccount).Deposit(100); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := second.(*BankAccount).Deposit(200); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("winner Save failed: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, eventstore.ErrConcurrency) {
		t.Fatalf("loser Save error = %v, want ErrConcurrency", err)
	}

	// The loser retries: re-fetch, reapply, save.
	retry, err := repo.Get(ctx, account.AggregateID(), nil)
	if err != nil {
		t.Fatalf("retry Get failed: %v", err)
	}
	if err := retry.(*BankAccount).Deposit(200); err != nil {
		t.Fatalf("retry Deposit failed: %v", err)
	}
	if err := repo.Save(ctx, retry); err != nil {
		t.Fatalf("retry Save failed: %v", err)
	}

	root, err := repo.Get(ctx, account.AggregateID(), nil)
	if err != nil {
		t.Fatalf("final Get failed: %v", err)
	}
	if got := root.(*BankAccount); got.Balance != 300 || got.AggregateVersion() != 3 {
		t.Errorf("final account = balance %d version %d, want 300/3", got.Balance, got.AggregateVersion())
	}
}

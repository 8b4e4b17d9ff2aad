package application_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/adapters/memory"
	"github.com/getpup/pupflow/es/application"
	"github.com/getpup/pupflow/es/mapper"
)

type orderPlaced struct {
	es.EventMeta
	SKU string `json:"sku"`
}

type order struct {
	es.Aggregate
	SKU string `json:"sku"`
}

func placeOrder(t *testing.T, sku string) *order {
	t.Helper()
	o := &order{}
	event := &orderPlaced{EventMeta: es.NewEventMeta(uuid.New(), 1), SKU: sku}
	if err := o.Trigger(o.Mutate, event); err != nil {
		t.Fatalf("placeOrder: %v", err)
	}
	return o
}

func (o *order) Mutate(event es.DomainEvent) error {
	switch e := event.(type) {
	case *orderPlaced:
		if err := o.Advance(e.EventMeta); err != nil {
			return err
		}
		o.SKU = e.SKU
		return nil
	default:
		return fmt.Errorf("order: unknown event %T", event)
	}
}

func newOrdersApp(t *testing.T, opts ...application.Option) *application.Application {
	t.Helper()
	registry := mapper.NewRegistry()
	registry.RegisterEvent("Order.Placed", func() es.DomainEvent { return &orderPlaced{} })
	return application.New("orders", mapper.New(registry), memory.NewStore(), opts...)
}

func TestApplication_SaveFeedsNotificationLog(t *testing.T) {
	ctx := context.Background()
	app := newOrdersApp(t)

	if err := app.Save(ctx, placeOrder(t, "sku-1"), placeOrder(t, "sku-2")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	section, err := app.NotificationLog().Section(ctx, "1,10")
	if err != nil {
		t.Fatalf("Section failed: %v", err)
	}
	if len(section.Items) != 2 {
		t.Fatalf("notification log has %d items, want 2", len(section.Items))
	}
	if section.Items[0].StoredEvent.Topic != "Order.Placed" {
		t.Errorf("notification topic = %q, want %q", section.Items[0].StoredEvent.Topic, "Order.Placed")
	}
}

func TestApplication_SaveNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	app := newOrdersApp(t)

	var prompted int
	app.Subscribe(func() { prompted++ })

	if err := app.Save(ctx, placeOrder(t, "sku-1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if prompted != 1 {
		t.Errorf("subscriber prompted %d times, want 1", prompted)
	}

	// No pending events, no notification.
	if err := app.Save(ctx); err != nil {
		t.Fatalf("empty Save failed: %v", err)
	}
	if prompted != 1 {
		t.Errorf("subscriber prompted %d times after empty save, want 1", prompted)
	}
}

func TestApplication_RepositorySaveNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	app := newOrdersApp(t)
	repo := app.Repository(func() es.Root { return &order{} })

	var prompted int
	app.Subscribe(func() { prompted++ })

	o := placeOrder(t, "sku-9")
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if prompted != 1 {
		t.Errorf("subscriber prompted %d times, want 1", prompted)
	}

	root, err := repo.Get(ctx, o.AggregateID(), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := root.(*order); got.SKU != "sku-9" {
		t.Errorf("reconstructed SKU = %q, want %q", got.SKU, "sku-9")
	}
}

func TestApplication_SectionSizeOption(t *testing.T) {
	app := newOrdersApp(t, application.WithSectionSize(3))
	if got := app.NotificationLog().SectionSize(); got != 3 {
		t.Errorf("section size = %d, want 3", got)
	}
}

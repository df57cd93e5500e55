package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

type txContextKey struct{}

func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// Registry bundles the Firestore-backed repositories behind the repositories.Registry contract.
// RunInTx opens a Firestore transaction and threads it through the context so every repository
// call inside the closure participates in the same transactional boundary.
type Registry struct {
	provider *pfirestore.Provider

	orders     *OrderRepository
	orderItems *OrderItemRepository
	shippings  *ShippingRepository
	skus       *SKURepository
	carts      *CartRepository
	returns    *ReturnRepository
	counters   *CounterRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry on top of a shared Firestore provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	orderItems, err := NewOrderItemRepository(provider)
	if err != nil {
		return nil, err
	}
	shippings, err := NewShippingRepository(provider)
	if err != nil {
		return nil, err
	}
	skus, err := NewSKURepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		orders:     orders,
		orderItems: orderItems,
		shippings:  shippings,
		skus:       skus,
		carts:      carts,
		returns:    returns,
		counters:   counters,
		health:     health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) OrderItems() repositories.OrderItemRepository { return r.orderItems }
func (r *Registry) Shippings() repositories.ShippingRepository   { return r.shippings }
func (r *Registry) SKUs() repositories.SKURepository             { return r.skus }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Returns() repositories.ReturnRepository       { return r.returns }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx executes fn inside a single Firestore transaction. Reads must precede writes
// within the closure per Firestore transaction semantics.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	if _, ok := txFromContext(ctx); ok {
		// Already transactional, join the outer boundary.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(ctx, tx))
	})
}

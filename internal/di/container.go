package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DawnBreaker207/Graduate-Project/internal/payments"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/config"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
	"github.com/DawnBreaker207/Graduate-Project/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders  services.OrderService
	Returns services.ReturnService
	Quotes  services.ShippingQuoteService
}

// Deps carries the externally constructed infrastructure the services need
// beyond the repository registry.
type Deps struct {
	Registry repositories.Registry
	Payments *payments.Manager
	Carrier  *shipping.Client
	Events   services.EventPublisher
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := deps.Registry

	orderDeps := services.OrderServiceDeps{
		Orders:                   reg.Orders(),
		Items:                    reg.OrderItems(),
		Shippings:                reg.Shippings(),
		SKUs:                     reg.SKUs(),
		Carts:                    reg.Carts(),
		Tx:                       reg,
		Counters:                 reg.Counters(),
		Payments:                 deps.Payments,
		Events:                   deps.Events,
		DefaultTransportationFee: cfg.Orders.DefaultTransportationFee,
		Clock:                    clock,
		Logger:                   serviceLogger(logger.Named("orders")),
	}
	if deps.Carrier != nil {
		orderDeps.Carrier = deps.Carrier
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns: reg.Returns(),
		Orders:  reg.Orders(),
		Tx:      reg,
		Events:  deps.Events,
		Clock:   clock,
		Logger:  serviceLogger(logger.Named("returns")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	if deps.Carrier != nil {
		quoteSvc, err := services.NewShippingQuoteService(deps.Carrier, serviceLogger(logger.Named("shipping")))
		if err != nil {
			return Services{}, fmt.Errorf("build shipping quote service: %w", err)
		}
		svc.Quotes = quoteSvc
	}

	return svc, nil
}

func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

package gateway

import (
	"context"
	"log/slog"
	"sort"

	errors "github.com/pesalend/loan-intake/internal"
)

// Registry holds the configured adapters and is the single point that knows
// the full provider set. Callers above it never branch on provider identity;
// they pass a gateway name (or "" for the default) and get the uniform
// contract back.
type Registry struct {
	gateways    map[string]Gateway
	defaultName string
	logger      *slog.Logger
}

func NewRegistry(defaultName string, logger *slog.Logger) *Registry {
	return &Registry{
		gateways:    make(map[string]Gateway),
		defaultName: defaultName,
		logger:      logger,
	}
}

// Register adds an adapter. Registration happens once at startup; providers
// with incomplete credentials should be skipped by the caller instead of
// registered in a broken state.
func (r *Registry) Register(gw Gateway) {
	r.gateways[gw.Name()] = gw
	r.logger.Info("payment gateway registered", "gateway", gw.Name())
}

// Get resolves a gateway by name, falling back to the configured default for
// an empty name. An unregistered name fails fast.
func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.defaultName
	}
	gw, ok := r.gateways[name]
	if !ok {
		r.logger.Error("gateway not configured", "gateway", name)
		return nil, errors.ErrGatewayNotConfigured
	}
	return gw, nil
}

// Names returns the registered gateway names in stable order, for the
// checkout screen's provider picker.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DefaultName() string {
	return r.defaultName
}

func (r *Registry) InitializePayment(ctx context.Context, name string, params InitializeParams) (*InitializeResult, error) {
	gw, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return gw.InitializePayment(ctx, params)
}

func (r *Registry) VerifyPayment(ctx context.Context, name string, providerRef ProviderReference) (*VerifyResult, error) {
	gw, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return gw.VerifyPayment(ctx, providerRef)
}

func (r *Registry) HandleWebhook(name string, payload []byte, signature string) (*WebhookResult, error) {
	gw, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return gw.HandleWebhook(payload, signature)
}

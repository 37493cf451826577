package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig contains provider-specific configuration
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory creates validators from configuration
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

var ErrNoValidator = errors.New("no validator accepted the credential")

// RegisterProvider registers a validator factory for a provider type
func RegisterProvider(providerType string, factory ValidatorFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewValidator creates a validator from provider configuration
func NewValidator(providerConfig ProviderConfig) (Validator, error) {
	mu.RLock()
	factory, ok := registry[providerConfig.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown auth provider type: %s", providerConfig.Type)
	}

	return factory(providerConfig.Config)
}

// NewValidators builds one validator per entry, in order.
func NewValidators(configs []ProviderConfig) ([]Validator, error) {
	out := make([]Validator, 0, len(configs))
	for i, pc := range configs {
		v, err := NewValidator(pc)
		if err != nil {
			return nil, fmt.Errorf("auth provider %d (%s): %w", i, pc.Type, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ValidateAny returns the claims from the first validator that accepts token.
func ValidateAny(validators []Validator, token string) (*Claims, error) {
	for _, v := range validators {
		if claims, err := v.Validate(token); err == nil {
			return claims, nil
		}
	}
	return nil, ErrNoValidator
}

// ListProviders returns registered provider types, sorted.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakd/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
// Filters are only applied if they declare they apply to the given request kind.
func (c *Chain) Execute(ctx context.Context, req Request, q QueueView) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(req.Kind) {
			continue
		}

		result := f.Check(ctx, req, q)
		if !result.Accepted {
			zlog.Info().Msgf("request rejected: filter=%s code=%s kind=%s", f.Name(), result.Code, req.Kind)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// NewChainFromConfig builds the chain from configuration. The text length
// filter is always installed with the configured maximum; other registered
// filters are added when enabled.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	chain := NewChain()

	textLength := NewTextLengthFilter(cfg.ElevenLabs.MaxTextLength)
	if settings := cfg.FilterSettings(TextLengthFilterName); settings != nil {
		if err := textLength.ValidateConfig(settings); err != nil {
			return nil, errors.Wrapf(err, "invalid config for filter %s", TextLengthFilterName)
		}
	}
	chain.Add(textLength)

	for _, name := range RegisteredNames() {
		if name == TextLengthFilterName || !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.FilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid config for filter %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("registered filter: name=%s", name)
	}

	return chain, nil
}

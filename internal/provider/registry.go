package provider

import (
	"fmt"

	"github.com/normanking/synapse/internal/config"
)

// Build constructs the provider registry from static configuration.
// Unknown kinds and unknown capability tags are startup errors; the
// registry never changes after this point.
func Build(cfgs []config.ProviderConfig) (*Registry, error) {
	records := make([]*Record, 0, len(cfgs))
	for _, pc := range cfgs {
		tags := make(map[Tag]bool, len(pc.Tags))
		for _, s := range pc.Tags {
			tag, err := ParseTag(s)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
			}
			tags[tag] = true
		}

		var client Client
		var err error
		switch pc.Kind {
		case "openai":
			client, err = NewOpenAIClient(OpenAIConfig{
				Name:     pc.ID,
				Endpoint: pc.Endpoint,
				APIKey:   pc.APIKey,
				Model:    pc.Model,
			})
			if err != nil {
				return nil, err
			}
		case "mock":
			client = NewMockClient(pc.ID)
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.ID, pc.Kind)
		}

		records = append(records, &Record{
			ID:       pc.ID,
			Tags:     tags,
			BaseCost: pc.BaseCost,
			Client:   client,
			Disabled: pc.Disabled,
		})
	}
	return NewRegistry(records)
}

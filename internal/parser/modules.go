package parser

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"habitat/internal/config"
	"habitat/internal/filtering"
	"habitat/internal/flightconfig"
	"habitat/internal/protocol"
	"habitat/internal/registry"
)

// ModuleEntry is one protocol module as the pipeline uses it. Entries are
// tried in slice order.
type ModuleEntry struct {
	// Name must equal the "protocol" of a payload configuration for that
	// configuration to be used with this module.
	Name          string
	Module        protocol.Module
	PreFilters    []filtering.Descriptor
	DefaultConfig *flightconfig.PayloadConfig
}

// BuildModules resolves the configured modules in reg.
func BuildModules(reg *registry.Registry, cfgs []config.ParserModuleConfig) ([]ModuleEntry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no parser modules configured")
	}

	entries := make([]ModuleEntry, 0, len(cfgs))
	seen := make(map[string]struct{}, len(cfgs))

	for i, c := range cfgs {
		module, _, err := registry.Resolve[protocol.Module](reg, c.Module)
		if err != nil {
			return nil, fmt.Errorf("parser module %d (%s): %w", i, c.Module, err)
		}

		entry := ModuleEntry{
			Name:   c.Name,
			Module: module,
		}
		if entry.Name == "" {
			entry.Name = module.Name()
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, fmt.Errorf("parser module %q configured twice", entry.Name)
		}
		seen[entry.Name] = struct{}{}

		if len(c.PreFilters) > 0 {
			if err := mapstructure.Decode(c.PreFilters, &entry.PreFilters); err != nil {
				return nil, fmt.Errorf("parser module %s pre_filters: %w", entry.Name, err)
			}
		}

		if c.DefaultConfig != nil {
			var def flightconfig.PayloadConfig
			if err := mapstructure.Decode(c.DefaultConfig, &def); err != nil {
				return nil, fmt.Errorf("parser module %s default_config: %w", entry.Name, err)
			}
			if def.Sentence.Protocol == "" {
				def.Sentence.Protocol = entry.Name
			}
			entry.DefaultConfig = &def
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

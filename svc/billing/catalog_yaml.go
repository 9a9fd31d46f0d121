package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
)

type yamlPlan struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Features    []string          `yaml:"features"`
	TrialDays   int               `yaml:"trial_days"`
	Prices      map[string]string `yaml:"prices"` // billing cycle -> provider price id
}

type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type fileSource struct {
	path string
}

// NewFileSource returns a CatalogSource that loads the plan catalog from a
// YAML file. The plan-to-price mapping table is deployment configuration,
// so it lives next to the rest of the app config rather than in code.
//
// Expected layout:
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    features: [leads, calls, sms]
//	    prices:
//	      monthly: price_pro_monthly
//	      yearly: price_pro_yearly
func NewFileSource(path string) core.CatalogSource {
	if path == "" {
		panic("billing: catalog file path is required")
	}
	return &fileSource{path: path}
}

func (s *fileSource) Load(ctx context.Context) (map[string]core.Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog %s: %w", s.path, err)
	}

	var catalog yamlCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog %s: %w", s.path, err)
	}
	if len(catalog.Plans) == 0 {
		return nil, errors.New("plan catalog is empty")
	}

	plans := make(map[string]core.Plan, len(catalog.Plans))
	for _, p := range catalog.Plans {
		features := make([]core.Feature, 0, len(p.Features))
		for _, f := range p.Features {
			features = append(features, core.Feature(f))
		}

		prices := make(map[core.BillingCycle]string, len(p.Prices))
		for cycle, priceID := range p.Prices {
			prices[core.BillingCycle(cycle)] = priceID
		}

		plans[p.ID] = core.Plan{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Features:    features,
			Prices:      prices,
			TrialDays:   p.TrialDays,
		}
	}

	return plans, nil
}

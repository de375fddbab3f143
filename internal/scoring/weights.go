package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/Harvey-AU/site-audit/internal/rules"
)

var ErrInvalidWeights = errors.New("invalid category weights")

// Weights are the relative importance of each category in the overall
// score. They need not sum to 100.
type Weights struct {
	Technical     float64 `json:"technical" yaml:"technical"`
	OnPage        float64 `json:"on_page" yaml:"on_page"`
	Performance   float64 `json:"performance" yaml:"performance"`
	Accessibility float64 `json:"accessibility" yaml:"accessibility"`
	ModernSEO     float64 `json:"modern_seo" yaml:"modern_seo"`
}

func DefaultWeights() Weights {
	return Weights{
		Technical:     30,
		OnPage:        25,
		Performance:   20,
		Accessibility: 10,
		ModernSEO:     15,
	}
}

// Validate rejects negative or non-finite weights and a set where every
// weight is zero.
func (w Weights) Validate() error {
	total := 0.0
	for _, c := range rules.Categories {
		v := w.For(c)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number (%g)", ErrInvalidWeights, c, v)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s is negative (%g)", ErrInvalidWeights, c, v)
		}
		total += v
	}
	if total == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

func (w Weights) For(c rules.Category) float64 {
	switch c {
	case rules.Technical:
		return w.Technical
	case rules.OnPage:
		return w.OnPage
	case rules.Performance:
		return w.Performance
	case rules.Accessibility:
		return w.Accessibility
	case rules.ModernSEO:
		return w.ModernSEO
	}
	return 0
}

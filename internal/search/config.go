package search

const (
	DefaultTopK              = 20
	DefaultHybridCandidates  = 100
	DefaultKeywordCandidates = 1000
	DefaultWeight            = 0.5
	DefaultPageSize          = 20
	DefaultPopularTags       = 50
)

// Config bounds result sizes and candidate pools.
type Config struct {
	DefaultTopK int `validate:"gte=0"`
	MaxTopK     int `validate:"gte=0"`
	// HybridCandidates is the semantic top K used by hybrid search.
	HybridCandidates int `validate:"gte=0"`
	// KeywordCandidates caps how many caption/tag matches are ranked.
	KeywordCandidates int `validate:"gte=0"`
	// DefaultWeight is the semantic share used when a hybrid query names
	// none. Nil means DefaultWeight; 0 is a valid keyword-only setting.
	DefaultWeight   *float64 `validate:"omitempty,gte=0,lte=1"`
	DefaultPageSize int      `validate:"gte=0"`
	MaxPageSize     int      `validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 100
	}
	if c.HybridCandidates <= 0 {
		c.HybridCandidates = DefaultHybridCandidates
	}
	if c.KeywordCandidates <= 0 {
		c.KeywordCandidates = DefaultKeywordCandidates
	}
	if c.DefaultWeight == nil || *c.DefaultWeight < 0 || *c.DefaultWeight > 1 {
		w := DefaultWeight
		c.DefaultWeight = &w
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	return c
}

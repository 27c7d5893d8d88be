package search

// Field names an entity field the client-side matcher reads.
type Field string

const (
	FieldName         Field = "name"
	FieldEntityType   Field = "entityType"
	FieldObservations Field = "observations"
	FieldTags         Field = "tags"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.3

const defaultMatchDistance = 100

// ClientOptions tunes the in-process matcher.
type ClientOptions struct {
	// Threshold overrides Config.FuzzyThreshold for client-side matching when set.
	Threshold *float64

	// Distance is how far from the start of a value a match may sit before the
	// location penalty reaches 1. Default: 100.
	Distance int

	// IgnoreLocation disables the location penalty.
	IgnoreLocation bool

	// Keys restricts matching to these fields. Empty means all four.
	Keys []Field
}

// Config controls how fuzzy search is executed.
//
// Thresholds are similarities in [0,1] on every backend: 1 means identical and a
// higher threshold is stricter.
type Config struct {
	// UseDatabaseSearch allows backend-native similarity search when available.
	UseDatabaseSearch bool

	// FuzzyThreshold is the default similarity threshold. DefaultConfig sets 0.3;
	// 0 is valid and keeps every entity with any similarity.
	FuzzyThreshold float64

	// EnableClientFallback answers failed database searches client side.
	EnableClientFallback bool

	Client ClientOptions
}

// DefaultConfig returns a Config with database search and client fallback enabled.
func DefaultConfig() Config {
	return Config{
		UseDatabaseSearch:    true,
		FuzzyThreshold:       DefaultFuzzyThreshold,
		EnableClientFallback: true,
		Client: ClientOptions{
			Distance:       defaultMatchDistance,
			IgnoreLocation: true,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		c.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if t := c.Client.Threshold; t != nil && (*t < 0 || *t > 1) {
		c.Client.Threshold = nil
	}
	if c.Client.Distance <= 0 {
		c.Client.Distance = defaultMatchDistance
	}
	return c
}

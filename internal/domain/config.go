package domain

import (
	"github.com/shopspring/decimal"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure defaults
	Tier Tier `json:"tier"`

	// Engine holds the reconciliation and decision parameters
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds every tunable of the reconciliation engine. All lookup
// tables are immutable configuration handed to the resolvers at construction
// time; nothing in the engine reads module-level state.
type EngineConfig struct {
	// Matching
	AmountTolerance     decimal.Decimal `json:"amountTolerance"`     // cents-level match tolerance
	DateToleranceDays   int             `json:"dateToleranceDays"`   // date-match window
	CandidateWindowDays int             `json:"candidateWindowDays"` // candidate pre-filter window (± days)
	QualifyingScore     int             `json:"qualifyingScore"`     // minimum score to qualify
	MinWordLength       int             `json:"minWordLength"`       // significant-word cutoff
	TryDateInversion    bool            `json:"tryDateInversion"`    // retry with DD/MM swapped

	// Tip-adjusted matching. The default band applies to gratuity-eligible
	// classes; TipBands overrides it per class when set.
	TipBand  TipBand                  `json:"tipBand"`
	TipBands map[ExpenseClass]TipBand `json:"tipBands,omitempty"`

	// Multi-match resolution: top two scores within this delta are treated
	// as truly ambiguous rather than letting one dominate.
	AmbiguityDelta int `json:"ambiguityDelta"`

	// Category classification, resolved once at ingestion.
	CategoryClasses map[string]ExpenseClass `json:"categoryClasses,omitempty"`

	// Jurisdiction resolution
	JurisdictionTags map[string]string         `json:"jurisdictionTags,omitempty"` // tag pattern -> code
	SentinelTag      string                    `json:"sentinelTag"`                // maps straight to fallback
	FallbackCode     string                    `json:"fallbackCode"`               // administrative/home code
	EventClasses     map[ExpenseClass]bool     `json:"eventClasses,omitempty"`     // classes resolved via events
	EventBufferDays  int                       `json:"eventBufferDays"`            // setup/teardown buffer

	// Confidence deductions
	DeductAmountMismatch    int `json:"deductAmountMismatch"`
	DeductUnreadableReceipt int `json:"deductUnreadableReceipt"`
	DeductMissingReceipt    int `json:"deductMissingReceipt"`

	// AmbiguousJurisdictionPenalty deducts from confidence when the event
	// lookup was ambiguous. Zero keeps it informational only.
	AmbiguousJurisdictionPenalty int `json:"ambiguousJurisdictionPenalty"`

	// Approval
	ApprovalThreshold int `json:"approvalThreshold"`

	// ReceiptAmountTolerance is the hard-override gate: a receipt amount
	// further than this from the expense amount always flags, regardless
	// of confidence. Distinct from the match-level AmountTolerance.
	ReceiptAmountTolerance decimal.Decimal `json:"receiptAmountTolerance"`
}

// TipBand is the ratio range [Low, High] of candidate amount over expense
// amount treated as a card-settled gratuity.
type TipBand struct {
	Low  decimal.Decimal `json:"low"`
	High decimal.Decimal `json:"high"`
}

// TipBandFor returns the tip band for a class, falling back to the default
// band when no per-class override exists.
func (c *EngineConfig) TipBandFor(class ExpenseClass) TipBand {
	if band, ok := c.TipBands[class]; ok {
		return band
	}
	return c.TipBand
}

// ClassifyCategory resolves a category name to its expense class. Unknown
// and empty categories get the general class.
func (c *EngineConfig) ClassifyCategory(category string) ExpenseClass {
	if class, ok := c.CategoryClasses[category]; ok {
		return class
	}
	return ClassGeneral
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the engine parameters used unless a
// deployment overrides them.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AmountTolerance:     decimal.NewFromFloat(0.01),
		DateToleranceDays:   3,
		CandidateWindowDays: 15,
		QualifyingScore:     70,
		MinWordLength:       4,
		TryDateInversion:    true,
		TipBand: TipBand{
			Low:  decimal.NewFromFloat(1.18),
			High: decimal.NewFromFloat(1.25),
		},
		AmbiguityDelta: 5,
		CategoryClasses: map[string]ExpenseClass{
			"Meals":            ClassMeals,
			"Catering":         ClassMeals,
			"Travel":           ClassTravel,
			"Event Services":   ClassEventServices,
			"Venue Rental":     ClassEventServices,
			"Course Materials": ClassEventServices,
		},
		JurisdictionTags: map[string]string{
			"CALIFORNIA":     "CA",
			"TEXAS":          "TX",
			"COLORADO":       "CO",
			"WASHINGTON":     "WA",
			"NEW JERSEY":     "NJ",
			"FLORIDA":        "FL",
			"MONTANA":        "MT",
			"NORTH CAROLINA": "NC",
		},
		SentinelTag:     "OTHER",
		FallbackCode:    "NC",
		EventClasses: map[ExpenseClass]bool{
			ClassEventServices: true,
			ClassTravel:        true,
		},
		EventBufferDays:         2,
		DeductAmountMismatch:    20,
		DeductUnreadableReceipt: 15,
		DeductMissingReceipt:    10,
		ApprovalThreshold:       85,
		ReceiptAmountTolerance:  decimal.NewFromFloat(0.50),
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

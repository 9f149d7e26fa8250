package model

// Defaults applied by RunSpec.ApplyDefaults.
const (
	DefaultTopN          = 3
	DefaultWorkers       = 4
	DefaultChannelBuffer = 64
	DefaultRunTimeout    = "5m"
)

// DefaultTrafficBuckets are the density boundaries used when a spec does
// not supply its own. Three boundaries yield four buckets.
var DefaultTrafficBuckets = []float64{0.5, 1.0, 2.0}

// SourceRef points at one entity fixture on disk.
type SourceRef struct {
	Path   string `json:"path"`
	Format string `json:"format"` // csv, json
}

// Sources lists the four entity fixtures consumed by a run.
type Sources struct {
	Orders      SourceRef `json:"orders"`
	Drivers     SourceRef `json:"drivers"`
	Restaurants SourceRef `json:"restaurants"`
	Traffic     SourceRef `json:"traffic"`
}

// Options tunes normalization and aggregation behavior.
type Options struct {
	TrafficBucketBoundaries []float64 `json:"traffic_bucket_boundaries,omitempty"`
	TopN                    int       `json:"top_n,omitempty"`
	TimestampFormats        []string  `json:"timestamp_formats,omitempty"`
	Insights                []string  `json:"insights,omitempty"`
}

// Concurrency sets worker counts and buffering per stage.
type Concurrency struct {
	EnrichWorkers    int    `json:"enrich_workers,omitempty"`
	DeriveWorkers    int    `json:"derive_workers,omitempty"`
	AggregateWorkers int    `json:"aggregate_workers,omitempty"`
	ChannelBuffer    int    `json:"channel_buffer,omitempty"`
	RunTimeout       string `json:"run_timeout,omitempty"`
}

// Export selects optional output sinks for a completed report.
type Export struct {
	Formats  []string `json:"formats,omitempty"`  // csv, json
	Database string   `json:"database,omitempty"` // sqlite, postgres
}

// RunSpec is the request body for POST /api/v1/runs and the configuration
// contract for library callers.
type RunSpec struct {
	Sources     Sources     `json:"sources"`
	Options     Options     `json:"options"`
	Concurrency Concurrency `json:"concurrency"`
	Export      Export      `json:"export"`
}

// ApplyDefaults fills zero-valued tunables in place. Sources are left
// untouched; their presence is checked by spec validation.
func (s *RunSpec) ApplyDefaults() {
	if len(s.Options.TrafficBucketBoundaries) == 0 {
		s.Options.TrafficBucketBoundaries = append([]float64(nil), DefaultTrafficBuckets...)
	}
	if s.Options.TopN <= 0 {
		s.Options.TopN = DefaultTopN
	}
	if s.Concurrency.EnrichWorkers <= 0 {
		s.Concurrency.EnrichWorkers = DefaultWorkers
	}
	if s.Concurrency.DeriveWorkers <= 0 {
		s.Concurrency.DeriveWorkers = DefaultWorkers
	}
	if s.Concurrency.AggregateWorkers <= 0 {
		s.Concurrency.AggregateWorkers = DefaultWorkers
	}
	if s.Concurrency.ChannelBuffer <= 0 {
		s.Concurrency.ChannelBuffer = DefaultChannelBuffer
	}
	if s.Concurrency.RunTimeout == "" {
		s.Concurrency.RunTimeout = DefaultRunTimeout
	}
}

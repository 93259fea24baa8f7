// Package config resolves the scanner's options from an optional YAML
// file plus command-line flags, with flags always taking precedence
// over the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dnsscience/submapper/internal/bandwidth"
)

// File is the YAML shape accepted via --config.
type File struct {
	Domains           []string `yaml:"domains"`
	Wordlist          string   `yaml:"wordlist"`
	Resolvers         []string `yaml:"resolvers"`
	Concurrency       int      `yaml:"concurrency"`
	Retry             int      `yaml:"retry"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	Band              string   `yaml:"band"`
	AdaptiveRate      bool     `yaml:"adaptive_rate"`
	WildcardMode      string   `yaml:"wildcard_mode"`
	OutputType        string   `yaml:"output_type"`
	Output            string   `yaml:"output"`
	OnlyAlive         bool     `yaml:"only_alive"`
	NotPrint          bool     `yaml:"not_print"`
	Predict           bool     `yaml:"predict"`
	PredictRounds     int      `yaml:"predict_rounds"`
	PredictTopN       int      `yaml:"predict_topn"`
	Heuristic         bool     `yaml:"heuristic"`
	HeuristicMax      int      `yaml:"heuristic_max"`
	StatusFile        string   `yaml:"status_file"`
	ResolverCooldownS int      `yaml:"resolver_cooldown_secs"`
	MetricsAddr       string   `yaml:"metrics_addr"`
	GRPCHealthAddr    string   `yaml:"grpc_health_addr"`
	ProgressInterval  int      `yaml:"progress_interval"`
	StatusFlushSecs   int      `yaml:"status_flush_interval"`
	ResolverStatsFile string   `yaml:"resolver_stats_file"`
	ResolverStatsSecs int      `yaml:"resolver_stats_interval"`
	ProgressJSONFile  string   `yaml:"progress_json_file"`
	NoProgress        bool     `yaml:"no_progress"`
	ProgressWide      bool     `yaml:"progress_wide"`
	ProgressLegacy    bool     `yaml:"progress_legacy"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &f, nil
}

// Merge overlays flag values onto the file-supplied defaults; flag
// values win. set records which flags the operator explicitly passed:
// only those are copied over, whatever their value.
func Merge(base *File, flag File, set map[string]bool) File {
	out := File{}
	if base != nil {
		out = *base
	}
	if set["domains"] {
		out.Domains = flag.Domains
	}
	if set["wordlist"] {
		out.Wordlist = flag.Wordlist
	}
	if set["resolvers"] {
		out.Resolvers = flag.Resolvers
	}
	if set["concurrency"] {
		out.Concurrency = flag.Concurrency
	}
	if set["retry"] {
		out.Retry = flag.Retry
	}
	if set["timeout"] {
		out.TimeoutSeconds = flag.TimeoutSeconds
	}
	if set["band"] {
		out.Band = flag.Band
	}
	if set["adaptive-rate"] {
		out.AdaptiveRate = flag.AdaptiveRate
	}
	if set["wildcard-mode"] {
		out.WildcardMode = flag.WildcardMode
	}
	if set["output-type"] {
		out.OutputType = flag.OutputType
	}
	if set["output"] {
		out.Output = flag.Output
	}
	if set["only-alive"] {
		out.OnlyAlive = flag.OnlyAlive
	}
	if set["not-print"] {
		out.NotPrint = flag.NotPrint
	}
	if set["predict"] {
		out.Predict = flag.Predict
	}
	if set["predict-rounds"] {
		out.PredictRounds = flag.PredictRounds
	}
	if set["predict-topn"] {
		out.PredictTopN = flag.PredictTopN
	}
	if set["heuristic"] {
		out.Heuristic = flag.Heuristic
	}
	if set["heuristic-max"] {
		out.HeuristicMax = flag.HeuristicMax
	}
	if set["status-file"] {
		out.StatusFile = flag.StatusFile
	}
	if set["resolver-cooldown-secs"] {
		out.ResolverCooldownS = flag.ResolverCooldownS
	}
	if set["metrics-addr"] {
		out.MetricsAddr = flag.MetricsAddr
	}
	if set["grpc-health-addr"] {
		out.GRPCHealthAddr = flag.GRPCHealthAddr
	}
	if set["progress-interval"] {
		out.ProgressInterval = flag.ProgressInterval
	}
	if set["status-flush-interval"] {
		out.StatusFlushSecs = flag.StatusFlushSecs
	}
	if set["resolver-stats-file"] {
		out.ResolverStatsFile = flag.ResolverStatsFile
	}
	if set["resolver-stats-interval"] {
		out.ResolverStatsSecs = flag.ResolverStatsSecs
	}
	if set["progress-json-file"] {
		out.ProgressJSONFile = flag.ProgressJSONFile
	}
	if set["no-progress"] {
		out.NoProgress = flag.NoProgress
	}
	if set["progress-wide"] {
		out.ProgressWide = flag.ProgressWide
	}
	if set["progress-legacy"] {
		out.ProgressLegacy = flag.ProgressLegacy
	}
	return out
}

// Validate applies defaults and checks cross-field constraints,
// returning the resolved packets/sec rate derived from Band (0 means
// unlimited).
func (f *File) Validate() (ratePPS int64, err error) {
	if len(f.Domains) == 0 {
		return 0, fmt.Errorf("at least one --domain is required")
	}
	if f.Concurrency <= 0 {
		f.Concurrency = 100
	}
	if f.TimeoutSeconds <= 0 {
		f.TimeoutSeconds = 6
	}
	if f.ProgressInterval <= 0 {
		f.ProgressInterval = 2
	}
	if f.ResolverStatsFile != "" && f.ResolverStatsSecs <= 0 {
		f.ResolverStatsSecs = 30
	}
	if f.OutputType == "" {
		f.OutputType = "txt"
	}
	if f.WildcardMode != "" && f.WildcardMode != "basic" && f.WildcardMode != "advanced" {
		return 0, fmt.Errorf("invalid wildcard mode %q: must be basic, advanced, or empty", f.WildcardMode)
	}
	if len(f.Resolvers) == 0 {
		f.Resolvers = bandwidth.DefaultResolvers()
	}
	if f.Band == "" {
		return 0, nil
	}
	rate, err := bandwidth.ParseRate(f.Band)
	if err != nil {
		return 0, fmt.Errorf("invalid --band: %w", err)
	}
	return rate, nil
}

// SplitList parses a comma-separated flag value into a trimmed slice.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

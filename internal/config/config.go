package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nshruti113/threatdna/internal/models"
)

// Report modes for the per-IP windowed rules
const (
	ReportFirst = "first"
	ReportAll   = "all"
)

// Alert orderings applied when rule outputs are merged
const (
	OrderByRule = "rule"
	OrderByTime = "time"
)

// Config is the full runtime configuration of a batch run and of the server
type Config struct {
	Workers  int            `yaml:"workers"`
	Schema   SchemaConfig   `yaml:"schema"`
	Rules    RulesConfig    `yaml:"rules"`
	Patterns PatternsConfig `yaml:"patterns"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// SchemaConfig drives header normalization
type SchemaConfig struct {
	Aliases        map[string][]string `yaml:"aliases"`
	FuzzyMatch     bool                `yaml:"fuzzy_match"`
	FuzzyThreshold float64             `yaml:"fuzzy_threshold"`
}

// RulesConfig holds the thresholds and lists used by the detection rules
type RulesConfig struct {
	ReportMode          string        `yaml:"report_mode"`
	AlertOrder          string        `yaml:"alert_order"`
	Disabled            []string      `yaml:"disabled"`
	FrequencyWindow     time.Duration `yaml:"frequency_window"`
	FrequencyThreshold  int           `yaml:"frequency_threshold"`
	HomeCountry         string        `yaml:"home_country"`
	ProdKeyword         string        `yaml:"prod_keyword"`
	TravelWindow        time.Duration `yaml:"travel_window"`
	StandardPorts       []int         `yaml:"standard_ports"`
	LargePayloadBytes   int64         `yaml:"large_payload_bytes"`
	Blocklist           []string      `yaml:"blocklist"`
	BlocklistFile       string        `yaml:"blocklist_file"`
	PortScanBucket      time.Duration `yaml:"port_scan_bucket"`
	PortScanThreshold   int           `yaml:"port_scan_threshold"`
	OddHourStart        int           `yaml:"odd_hour_start"`
	OddHourEnd          int           `yaml:"odd_hour_end"`
	SuspiciousKeyword   string        `yaml:"suspicious_keyword"`
	SuspiciousBucket    time.Duration `yaml:"suspicious_bucket"`
	SuspiciousThreshold int           `yaml:"suspicious_threshold"`
}

// PatternsConfig holds the threat-level count thresholds
type PatternsConfig struct {
	High               int  `yaml:"high"`
	Medium             int  `yaml:"medium"`
	Low                int  `yaml:"low"`
	IncludeThreatLevel bool `yaml:"include_threat_level"`
}

// ServerConfig configures the HTTP service and its alert sinks
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReportCacheSize int    `yaml:"report_cache_size"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisChannel    string `yaml:"redis_channel"`
	NatsURL         string `yaml:"nats_url"`
	NatsSubject     string `yaml:"nats_subject"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultAliases is the built-in header alias table
func DefaultAliases() map[string][]string {
	return map[string][]string{
		"source_ip":        {"src_ip", "source.ip", "ip_source"},
		"dest_ip":          {"dst_ip", "destination_ip", "ip_dest"},
		"access_time":      {"time", "timestamp", "log_time", "event_time"},
		"country_code":     {"src_ip_country_code", "geo_country", "country", "location"},
		"dest_port":        {"dst_port", "destination_port", "port"},
		"bytes_in":         {"bytes_in", "bytes.received", "incoming_bytes"},
		"bytes_out":        {"bytes_out", "bytes.sent", "outgoing_bytes"},
		"observation_name": {"observation_name", "observationName", "observation"},
		"rule_names":       {"rule_names", "ruleNames", "rule_name", "rules"},
	}
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	return &Config{
		Workers: 4,
		Schema: SchemaConfig{
			Aliases:        DefaultAliases(),
			FuzzyMatch:     true,
			FuzzyThreshold: 0.6,
		},
		Rules: RulesConfig{
			ReportMode:          ReportFirst,
			AlertOrder:          OrderByRule,
			FrequencyWindow:     60 * time.Second,
			FrequencyThreshold:  10,
			HomeCountry:         "IN",
			ProdKeyword:         "prod",
			TravelWindow:        30 * time.Second,
			StandardPorts:       []int{80, 443, 22, 21, 25},
			LargePayloadBytes:   10_000_000,
			Blocklist:           []string{"203.0.113.10", "198.51.100.20"},
			PortScanBucket:      time.Minute,
			PortScanThreshold:   3,
			OddHourStart:        2,
			OddHourEnd:          4,
			SuspiciousKeyword:   "suspicious",
			SuspiciousBucket:    5 * time.Minute,
			SuspiciousThreshold: 5,
		},
		Patterns: PatternsConfig{
			High:   20,
			Medium: 13,
			Low:    5,
		},
		Server: ServerConfig{
			Addr:            ":8888",
			ReportCacheSize: 32,
			MaxUploadBytes:  256 << 20,
			RedisChannel:    "alerts",
			NatsSubject:     "threatdna.alerts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if cfg.Rules.BlocklistFile != "" && !filepath.IsAbs(cfg.Rules.BlocklistFile) {
			cfg.Rules.BlocklistFile = filepath.Join(filepath.Dir(path), cfg.Rules.BlocklistFile)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cfg.Rules.BlocklistFile != "" {
		ips, err := ReadBlocklist(cfg.Rules.BlocklistFile)
		if err != nil {
			return nil, err
		}
		cfg.Rules.Blocklist = append(cfg.Rules.Blocklist, ips...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from THREATDNA_* environment variables
func (c *Config) ApplyEnv() error {
	c.Workers = getEnvInt("THREATDNA_WORKERS", c.Workers)
	c.Log.Level = getEnv("THREATDNA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("THREATDNA_LOG_FORMAT", c.Log.Format)
	c.Server.Addr = getEnv("THREATDNA_HTTP_ADDR", c.Server.Addr)
	c.Server.RedisAddr = getEnv("THREATDNA_REDIS_ADDR", c.Server.RedisAddr)
	c.Server.NatsURL = getEnv("THREATDNA_NATS_URL", c.Server.NatsURL)
	c.Rules.ReportMode = getEnv("THREATDNA_REPORT_MODE", c.Rules.ReportMode)

	if v := os.Getenv("THREATDNA_BLOCKLIST"); v != "" {
		c.Rules.Blocklist = splitList(v)
	}
	if v := os.Getenv("THREATDNA_STANDARD_PORTS"); v != "" {
		ports := make([]int, 0)
		for _, item := range splitList(v) {
			port, err := strconv.Atoi(item)
			if err != nil {
				return fmt.Errorf("invalid THREATDNA_STANDARD_PORTS entry %q: %w", item, err)
			}
			ports = append(ports, port)
		}
		c.Rules.StandardPorts = ports
	}
	return nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	for name := range c.Schema.Aliases {
		if _, ok := models.ParseField(name); !ok {
			errs = append(errs, fmt.Errorf("schema.aliases: unknown field %q", name))
		}
	}
	if c.Schema.FuzzyThreshold < 0 || c.Schema.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("schema.fuzzy_threshold must be within [0,1], got %v", c.Schema.FuzzyThreshold))
	}

	r := c.Rules
	if r.ReportMode != ReportFirst && r.ReportMode != ReportAll {
		errs = append(errs, fmt.Errorf("rules.report_mode must be %q or %q, got %q", ReportFirst, ReportAll, r.ReportMode))
	}
	if r.AlertOrder != OrderByRule && r.AlertOrder != OrderByTime {
		errs = append(errs, fmt.Errorf("rules.alert_order must be %q or %q, got %q", OrderByRule, OrderByTime, r.AlertOrder))
	}
	for name, d := range map[string]time.Duration{
		"frequency_window":  r.FrequencyWindow,
		"travel_window":     r.TravelWindow,
		"port_scan_bucket":  r.PortScanBucket,
		"suspicious_bucket": r.SuspiciousBucket,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("rules.%s must be positive, got %s", name, d))
		}
	}
	if strings.TrimSpace(r.ProdKeyword) == "" || strings.TrimSpace(r.SuspiciousKeyword) == "" {
		errs = append(errs, errors.New("rules.prod_keyword and rules.suspicious_keyword must not be empty"))
	}
	if r.OddHourStart < 0 || r.OddHourEnd > 24 || r.OddHourStart >= r.OddHourEnd {
		errs = append(errs, fmt.Errorf("rules.odd_hour range [%d,%d) is invalid", r.OddHourStart, r.OddHourEnd))
	}

	p := c.Patterns
	if p.Low < 1 || p.Medium < p.Low || p.High < p.Medium {
		errs = append(errs, fmt.Errorf("patterns thresholds must satisfy 1 <= low <= medium <= high, got %d/%d/%d", p.Low, p.Medium, p.High))
	}

	if c.Server.ReportCacheSize < 1 {
		errs = append(errs, fmt.Errorf("server.report_cache_size must be at least 1, got %d", c.Server.ReportCacheSize))
	}

	return errors.Join(errs...)
}

// ReadBlocklist loads one IP per line, ignoring blank lines and # comments
func ReadBlocklist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist %s: %w", path, err)
	}
	defer f.Close()

	var ips []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ips = append(ips, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocklist %s: %w", path, err)
	}
	return ips, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

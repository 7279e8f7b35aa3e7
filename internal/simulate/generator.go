// Package simulate generates synthetic traffic batches with injected attack scenarios.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Scenario names an injected attack pattern
type Scenario string

const (
	FrequencySpike   Scenario = "frequency-spike"
	ImpossibleTravel Scenario = "impossible-travel"
	PortScan         Scenario = "port-scan"
	LargePayload     Scenario = "large-payload"
	SuspiciousBurst  Scenario = "suspicious-burst"
	ThreatIntel      Scenario = "threat-intel"
	ForeignProd      Scenario = "foreign-prod"
)

// Scenarios lists every scenario in injection order
func Scenarios() []Scenario {
	return []Scenario{FrequencySpike, ImpossibleTravel, PortScan, LargePayload, SuspiciousBurst, ThreatIntel, ForeignProd}
}

// ParseScenario resolves a scenario by name
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q", name)
}

// Event is one synthetic traffic log line
type Event struct {
	ID          string
	SourceIP    string
	DestIP      string
	Time        time.Time
	Country     string
	Port        int
	BytesIn     int64
	BytesOut    int64
	Observation string
	RuleNames   string
}

// Options controls one generated batch
type Options struct {
	Seed       uint64
	Start      time.Time
	Span       time.Duration
	Background int
	Scenarios  []Scenario
}

const (
	targetIP = "192.168.1.100"
	poolSize = 50
)

var (
	homeCountries   = []string{"IN", "IN", "IN", "US", "DE"}
	backgroundPorts = []int{443, 80}
	observations    = []string{"web-frontend", "api-gateway", "auth-service", "cdn-edge"}
	ruleNames       = []string{"Normal Login", "Health Check", "Session Refresh"}
)

// Generator produces reproducible batches for a seed
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate builds background traffic over the span plus every requested scenario,
// sorted by time. Background traffic alone stays below every rule threshold as long as
// the span lies in weekday business hours.
func Generate(opts Options) []Event {
	g := NewGenerator(opts.Seed)
	span := opts.Span
	if span <= 0 {
		span = time.Hour
	}

	events := g.Background(opts.Start, span, opts.Background)
	for i, s := range opts.Scenarios {
		at := opts.Start.Add(span * time.Duration(i+1) / time.Duration(len(opts.Scenarios)+1))
		events = append(events, g.Scenario(s, at)...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events
}

// Background generates n evenly spaced benign events from a fixed pool of hosts. Each
// host keeps one country, so no host ever appears to travel.
func (g *Generator) Background(start time.Time, span time.Duration, n int) []Event {
	if n <= 0 {
		return nil
	}

	hosts := make([]string, poolSize)
	countries := make([]string, poolSize)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("10.20.%d.%d", i/250, i%250+1)
		countries[i] = homeCountries[g.rng.IntN(len(homeCountries))]
	}

	step := span / time.Duration(n)
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		host := i % poolSize
		observation := observations[g.rng.IntN(len(observations))]
		if countries[host] == "IN" && g.rng.IntN(4) == 0 {
			observation = "prod-" + observation
		}
		events = append(events, Event{
			ID:          uuid.New().String(),
			SourceIP:    hosts[host],
			DestIP:      targetIP,
			Time:        start.Add(step * time.Duration(i)),
			Country:     countries[host],
			Port:        backgroundPorts[g.rng.IntN(len(backgroundPorts))],
			BytesIn:     int64(g.rng.IntN(5000) + 200),
			BytesOut:    int64(g.rng.IntN(1000) + 100),
			Observation: observation,
			RuleNames:   ruleNames[g.rng.IntN(len(ruleNames))],
		})
	}
	return events
}

// Scenario generates the events of one attack pattern. Events start at the five-minute
// boundary at or before at, so bucketed rules see the whole burst in one bucket.
func (g *Generator) Scenario(s Scenario, at time.Time) []Event {
	at = at.Truncate(5 * time.Minute)

	switch s {
	case FrequencySpike:
		// 12 events in 22s from one host
		return g.burst("192.0.2.10", at, 12, 2*time.Second, func(i int, e *Event) {})
	case ImpossibleTravel:
		return []Event{
			g.event("192.0.2.20", at, func(e *Event) { e.Country = "US" }),
			g.event("192.0.2.20", at.Add(20*time.Second), func(e *Event) { e.Country = "FR" }),
		}
	case PortScan:
		ports := []int{22, 80, 443, 3389, 8080}
		return g.burst("192.0.2.30", at, len(ports), 5*time.Second, func(i int, e *Event) {
			e.Port = ports[i]
		})
	case LargePayload:
		return []Event{g.event("192.0.2.40", at, func(e *Event) {
			e.BytesOut = 50_000_000 + int64(g.rng.IntN(1_000_000))
		})}
	case SuspiciousBurst:
		return g.burst("192.0.2.50", at, 6, 20*time.Second, func(i int, e *Event) {
			e.RuleNames = "Suspicious Login Attempt"
		})
	case ThreatIntel:
		return g.burst("203.0.113.10", at, 2, 30*time.Second, func(i int, e *Event) {})
	case ForeignProd:
		return []Event{g.event("192.0.2.60", at, func(e *Event) {
			e.Country = "CN"
			e.Observation = "prod-api"
		})}
	default:
		return nil
	}
}

func (g *Generator) burst(ip string, at time.Time, n int, gap time.Duration, adjust func(int, *Event)) []Event {
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.event(ip, at.Add(gap*time.Duration(i)), func(e *Event) { adjust(i, e) }))
	}
	return events
}

func (g *Generator) event(ip string, at time.Time, adjust func(*Event)) Event {
	e := Event{
		ID:          uuid.New().String(),
		SourceIP:    ip,
		DestIP:      targetIP,
		Time:        at,
		Country:     "IN",
		Port:        443,
		BytesIn:     int64(g.rng.IntN(5000) + 200),
		BytesOut:    int64(g.rng.IntN(1000) + 100),
		Observation: "web-frontend",
		RuleNames:   "Normal Login",
	}
	adjust(&e)
	return e
}

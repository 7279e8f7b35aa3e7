package detection

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/nshruti113/threatdna/internal/models"
)

// Rule names as they appear in alerts and exports
const (
	RuleFrequencySpike     = "Frequency Spike"
	RuleForeignProdAccess  = "Foreign Access to Prod"
	RuleImpossibleTravel   = "Impossible Travel"
	RuleWeekendActivity    = "Weekend Activity"
	RuleUnknownPort        = "Unknown Port"
	RuleLargePayload       = "Large Payload"
	RuleThreatIntelMatch   = "Threat Intel Match"
	RulePortScan           = "Port Scan"
	RuleOddHourActivity    = "Odd Hour Activity"
	RuleRepeatedSuspicious = "Repeated Suspicious Rules"
)

// FrequencySpike flags a source IP that produces more than Threshold events within Window
// of one anchor event. Only the earliest spike per IP is reported unless ReportAll is set,
// in which case scanning resumes after the reported window.
type FrequencySpike struct {
	Window    time.Duration
	Threshold int
	ReportAll bool
}

func (r *FrequencySpike) Name() string { return RuleFrequencySpike }

func (r *FrequencySpike) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldSourceIP, models.FieldAccessTime)
}

func (r *FrequencySpike) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	groups, skipped := groupBySource(records, r.Requires())
	var alerts []models.Alert

	for _, g := range groups {
		end := 0
		for i := 0; i < len(g.events); i++ {
			anchor := g.events[i].AccessTime
			if end < i {
				end = i
			}
			for end+1 < len(g.events) && g.events[end+1].AccessTime.Sub(anchor) <= r.Window {
				end++
			}

			count := end - i + 1
			if count <= r.Threshold {
				continue
			}

			alerts = append(alerts, models.Alert{
				Rule:      r.Name(),
				SourceIP:  g.ip,
				Timestamp: anchor,
				Details:   fmt.Sprintf("%d events within %s", count, humanWindow(r.Window)),
			})
			if !r.ReportAll {
				break
			}
			i = end
		}
	}

	return alerts, skipped
}

// ForeignProdAccess flags production assets reached from outside the home country
type ForeignProdAccess struct {
	HomeCountry string
	matcher     *keywordMatcher
}

func NewForeignProdAccess(homeCountry, keyword string) *ForeignProdAccess {
	return &ForeignProdAccess{
		HomeCountry: strings.ToUpper(homeCountry),
		matcher:     newKeywordMatcher(keyword),
	}
}

func (r *ForeignProdAccess) Name() string { return RuleForeignProdAccess }

func (r *ForeignProdAccess) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldObservationName, models.FieldCountryCode)
}

func (r *ForeignProdAccess) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	skipped := 0

	for i := range records {
		rec := &records[i]
		if !r.matcher.Contains(rec.ObservationName) {
			continue
		}
		if !rec.Has(models.FieldCountryCode) {
			skipped++
			continue
		}
		if rec.CountryCode == r.HomeCountry {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   fmt.Sprintf("%s accessed from %s", rec.ObservationName, rec.CountryCode),
		})
	}

	return alerts, skipped
}

// ImpossibleTravel flags a source IP seen in two countries within Window. Identical
// (time, country) observations are collapsed first; only the first jump per IP is
// reported unless ReportAll is set.
type ImpossibleTravel struct {
	Window    time.Duration
	ReportAll bool
}

func (r *ImpossibleTravel) Name() string { return RuleImpossibleTravel }

func (r *ImpossibleTravel) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldSourceIP, models.FieldAccessTime, models.FieldCountryCode)
}

type sighting struct {
	at      time.Time
	country string
}

func (r *ImpossibleTravel) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	groups, skipped := groupBySource(records, r.Requires())
	var alerts []models.Alert

	for _, g := range groups {
		seen := make(map[sighting]bool)
		var trail []sighting
		for _, ev := range g.events {
			s := sighting{at: ev.AccessTime, country: ev.CountryCode}
			if seen[s] {
				continue
			}
			seen[s] = true
			trail = append(trail, s)
		}

		for k := 1; k < len(trail); k++ {
			prev, cur := trail[k-1], trail[k]
			gap := cur.at.Sub(prev.at)
			if cur.country == prev.country || gap > r.Window {
				continue
			}
			alerts = append(alerts, models.Alert{
				Rule:      r.Name(),
				SourceIP:  g.ip,
				Timestamp: cur.at,
				Details:   fmt.Sprintf("Seen in %s then %s within %s", prev.country, cur.country, humanWindow(gap)),
			})
			if !r.ReportAll {
				break
			}
			// the next incident starts after cur
			k++
		}
	}

	return alerts, skipped
}

// WeekendActivity flags access on Saturday or Sunday (UTC)
type WeekendActivity struct{}

func (r *WeekendActivity) Name() string { return RuleWeekendActivity }

func (r *WeekendActivity) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldAccessTime)
}

func (r *WeekendActivity) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	for i := range records {
		rec := &records[i]
		day := rec.AccessTime.Weekday()
		if day != time.Saturday && day != time.Sunday {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   fmt.Sprintf("Access on %s", day),
		})
	}
	return alerts, 0
}

// UnknownPort flags destination ports outside the standard allowlist
type UnknownPort struct {
	allowed map[int]bool
}

func NewUnknownPort(standard []int) *UnknownPort {
	allowed := make(map[int]bool, len(standard))
	for _, p := range standard {
		allowed[p] = true
	}
	return &UnknownPort{allowed: allowed}
}

func (r *UnknownPort) Name() string { return RuleUnknownPort }

func (r *UnknownPort) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldDestPort)
}

func (r *UnknownPort) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	skipped := 0
	for i := range records {
		rec := &records[i]
		if !rec.Has(models.FieldDestPort) {
			skipped++
			continue
		}
		if r.allowed[rec.DestPort] {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   fmt.Sprintf("Accessed non-standard port %d", rec.DestPort),
		})
	}
	return alerts, skipped
}

// LargePayload flags records that sent more than Limit bytes out
type LargePayload struct {
	Limit int64
}

func (r *LargePayload) Name() string { return RuleLargePayload }

func (r *LargePayload) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldBytesOut)
}

func (r *LargePayload) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	skipped := 0
	for i := range records {
		rec := &records[i]
		if !rec.Has(models.FieldBytesOut) {
			skipped++
			continue
		}
		if rec.BytesOut <= r.Limit {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   fmt.Sprintf("Sent %d bytes (limit %d)", rec.BytesOut, r.Limit),
		})
	}
	return alerts, skipped
}

// ThreatIntelMatch flags source IPs on the blocklist. Entries may be single addresses or
// CIDR prefixes; anything else is compared verbatim.
type ThreatIntelMatch struct {
	exact    map[string]bool
	addrs    map[netip.Addr]bool
	prefixes []netip.Prefix
}

func NewThreatIntelMatch(blocklist []string) *ThreatIntelMatch {
	r := &ThreatIntelMatch{
		exact: make(map[string]bool),
		addrs: make(map[netip.Addr]bool),
	}
	for _, entry := range blocklist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			r.prefixes = append(r.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			r.addrs[a.Unmap()] = true
			continue
		}
		r.exact[entry] = true
	}
	return r
}

func (r *ThreatIntelMatch) Name() string { return RuleThreatIntelMatch }

func (r *ThreatIntelMatch) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldSourceIP)
}

func (r *ThreatIntelMatch) listed(ip string) bool {
	if r.exact[ip] {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if r.addrs[addr] {
		return true
	}
	for _, p := range r.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (r *ThreatIntelMatch) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	skipped := 0
	for i := range records {
		rec := &records[i]
		if !rec.Has(models.FieldSourceIP) {
			skipped++
			continue
		}
		if !r.listed(rec.SourceIP) {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   "Source IP is on the threat intel blocklist",
		})
	}
	return alerts, skipped
}

// PortScan flags a source IP contacting more than Threshold distinct ports in one bucket
type PortScan struct {
	Bucket    time.Duration
	Threshold int
}

func (r *PortScan) Name() string { return RulePortScan }

func (r *PortScan) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldSourceIP, models.FieldAccessTime, models.FieldDestPort)
}

func (r *PortScan) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	buckets := newBucketCounter[map[int]bool](r.Bucket)
	skipped := 0
	req := r.Requires()

	for i := range records {
		rec := &records[i]
		if !rec.Present.HasAll(req) {
			skipped++
			continue
		}
		_, ports := buckets.at(rec, func() map[int]bool { return make(map[int]bool) })
		ports[rec.DestPort] = true
	}

	var alerts []models.Alert
	for _, key := range buckets.order {
		ports := buckets.state[key]
		if len(ports) <= r.Threshold {
			continue
		}
		list := make([]int, 0, len(ports))
		for p := range ports {
			list = append(list, p)
		}
		sort.Ints(list)

		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  key.ip,
			Timestamp: key.start,
			Details:   fmt.Sprintf("Contacted %d distinct ports within %s: %s", len(list), humanWindow(r.Bucket), joinInts(list)),
		})
	}

	return alerts, skipped
}

// OddHourActivity flags access with a UTC hour in [Start, End)
type OddHourActivity struct {
	Start int
	End   int
}

func (r *OddHourActivity) Name() string { return RuleOddHourActivity }

func (r *OddHourActivity) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldAccessTime)
}

func (r *OddHourActivity) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	var alerts []models.Alert
	for i := range records {
		rec := &records[i]
		hour := rec.AccessTime.Hour()
		if hour < r.Start || hour >= r.End {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  rec.SourceIP,
			Timestamp: rec.AccessTime,
			Details:   fmt.Sprintf("Access at %s UTC", rec.AccessTime.Format("15:04")),
		})
	}
	return alerts, 0
}

// RepeatedSuspicious flags bursts of records already tagged by upstream suspicious rules
type RepeatedSuspicious struct {
	Bucket    time.Duration
	Threshold int
	matcher   *keywordMatcher
}

func NewRepeatedSuspicious(keyword string, bucket time.Duration, threshold int) *RepeatedSuspicious {
	return &RepeatedSuspicious{
		Bucket:    bucket,
		Threshold: threshold,
		matcher:   newKeywordMatcher(keyword),
	}
}

func (r *RepeatedSuspicious) Name() string { return RuleRepeatedSuspicious }

func (r *RepeatedSuspicious) Requires() models.FieldSet {
	return models.NewFieldSet(models.FieldSourceIP, models.FieldAccessTime, models.FieldRuleNames)
}

func (r *RepeatedSuspicious) Evaluate(records []models.TrafficRecord) ([]models.Alert, int) {
	buckets := newBucketCounter[int](r.Bucket)
	skipped := 0

	for i := range records {
		rec := &records[i]
		if !r.matcher.Contains(rec.RuleNames) {
			continue
		}
		if !rec.Has(models.FieldSourceIP) {
			skipped++
			continue
		}
		key, n := buckets.at(rec, func() int { return 0 })
		buckets.set(key, n+1)
	}

	var alerts []models.Alert
	for _, key := range buckets.order {
		n := buckets.state[key]
		if n <= r.Threshold {
			continue
		}
		alerts = append(alerts, models.Alert{
			Rule:      r.Name(),
			SourceIP:  key.ip,
			Timestamp: key.start,
			Details:   fmt.Sprintf("%d suspicious rule hits within %s", n, humanWindow(r.Bucket)),
		})
	}

	return alerts, skipped
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

// Package filter implements the schedule/keyword/category filter chain
// a streamer's live observation is checked against once it is known to
// be live: a non-matching filter turns a Live observation into a
// Filtered one instead of handing it off to the session orchestrator.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind names one of the five filter families.
type Kind string

const (
	KindTime     Kind = "time"
	KindCron     Kind = "cron"
	KindKeyword  Kind = "keyword"
	KindCategory Kind = "category"
	KindRegex    Kind = "regex"
)

// Spec is one filter row as fetched from the filter repository
// (consumed, not implemented here): only the fields relevant to Kind
// are populated.
type Spec struct {
	Kind    Kind
	Exclude bool

	// Time
	Days      []time.Weekday
	StartHour int // inclusive, 0-23
	EndHour   int // exclusive, 0-23; EndHour < StartHour wraps past midnight, EndHour == StartHour matches every hour
	Timezone  string

	// Cron
	Expression string // 6-field: seconds minutes hours dom month dow
	Tolerance  time.Duration

	// Keyword / Regex
	Pattern         string
	CaseInsensitive bool

	// Category
	Categories []string
}

// Filter evaluates one rule against a live observation.
type Filter interface {
	Kind() Kind
	// Match reports whether the observation is allowed through.
	Match(title, category string, now time.Time) bool
	// NextMatchTime reports when a currently-failing schedule-based
	// filter (Time/Cron) will next allow a match; zero for filter kinds
	// that aren't schedule-based.
	NextMatchTime(now time.Time) time.Time
}

// Build constructs the concrete Filter for one Spec.
func Build(spec Spec) (Filter, error) {
	switch spec.Kind {
	case KindTime:
		return newTimeFilter(spec)
	case KindCron:
		return newCronFilter(spec)
	case KindKeyword:
		return newKeywordFilter(spec), nil
	case KindCategory:
		return newCategoryFilter(spec), nil
	case KindRegex:
		return newRegexFilter(spec)
	default:
		return nil, fmt.Errorf("filter: unknown kind %q", spec.Kind)
	}
}

// Chain is an ordered set of filters evaluated in sequence; the first
// one that fails to match stops evaluation.
type Chain struct {
	filters []Filter
}

// NewChain builds a Chain from specs, in order.
func NewChain(specs []Spec) (*Chain, error) {
	filters := make([]Filter, 0, len(specs))
	for _, spec := range specs {
		f, err := Build(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return &Chain{filters: filters}, nil
}

// Evaluate runs every filter in order. ok is false at the first
// non-matching filter, with reason naming its Kind and next carrying
// NextMatchTime for schedule-based kinds (zero otherwise).
func (c *Chain) Evaluate(title, category string, now time.Time) (ok bool, reason string, next time.Time) {
	for _, f := range c.filters {
		if !f.Match(title, category, now) {
			return false, string(f.Kind()), f.NextMatchTime(now)
		}
	}
	return true, "", time.Time{}
}

type timeFilter struct {
	spec Spec
	days map[time.Weekday]bool
	loc  *time.Location
}

func newTimeFilter(spec Spec) (*timeFilter, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("filter: invalid timezone %q: %w", spec.Timezone, err)
		}
	}
	days := make(map[time.Weekday]bool, len(spec.Days))
	for _, d := range spec.Days {
		days[d] = true
	}
	return &timeFilter{spec: spec, days: days, loc: loc}, nil
}

func (f *timeFilter) Kind() Kind { return KindTime }

func (f *timeFilter) active(t time.Time) bool {
	local := t.In(f.loc)
	if len(f.days) > 0 && !f.days[local.Weekday()] {
		return false
	}
	return inHourWindow(local.Hour(), f.spec.StartHour, f.spec.EndHour)
}

func (f *timeFilter) Match(_, _ string, now time.Time) bool {
	active := f.active(now)
	if f.spec.Exclude {
		return !active
	}
	return active
}

// NextMatchTime scans forward hour by hour (bounded to 8 days, the
// widest possible day-of-week + hour-window cycle) for the next moment
// the schedule admits.
func (f *timeFilter) NextMatchTime(now time.Time) time.Time {
	t := now.Truncate(time.Hour)
	for i := 0; i < 24*8; i++ {
		t = t.Add(time.Hour)
		if f.Match("", "", t) {
			return t
		}
	}
	return time.Time{}
}

func inHourWindow(hour, start, end int) bool {
	if start == end {
		return true // a zero-width window means "always"
	}
	if start < end {
		return hour >= start && hour < end
	}
	// wraps past midnight, e.g. 22 -> 6
	return hour >= start || hour < end
}

type cronFilter struct {
	spec  Spec
	sched cron.Schedule
	loc   *time.Location
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func newCronFilter(spec Spec) (*cronFilter, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("filter: invalid timezone %q: %w", spec.Timezone, err)
		}
	}
	sched, err := cronParser.Parse(spec.Expression)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid cron expression %q: %w", spec.Expression, err)
	}
	return &cronFilter{spec: spec, sched: sched, loc: loc}, nil
}

func (f *cronFilter) Kind() Kind { return KindCron }

func (f *cronFilter) tolerance() time.Duration {
	if f.spec.Tolerance > 0 {
		return f.spec.Tolerance
	}
	return time.Hour
}

// Match treats the cron expression as marking the start of an active
// window whose length is Tolerance: a tick within the last Tolerance
// counts as "currently scheduled".
func (f *cronFilter) Match(_, _ string, now time.Time) bool {
	local := now.In(f.loc)
	window := f.tolerance()
	prev := f.sched.Next(local.Add(-window - time.Second))
	active := !prev.After(local) && local.Sub(prev) < window
	if f.spec.Exclude {
		return !active
	}
	return active
}

func (f *cronFilter) NextMatchTime(now time.Time) time.Time {
	return f.sched.Next(now.In(f.loc))
}

type keywordFilter struct {
	spec    Spec
	keyword string
}

func newKeywordFilter(spec Spec) *keywordFilter {
	kw := spec.Pattern
	if spec.CaseInsensitive {
		kw = strings.ToLower(kw)
	}
	return &keywordFilter{spec: spec, keyword: kw}
}

func (f *keywordFilter) Kind() Kind { return KindKeyword }

func (f *keywordFilter) Match(title, _ string, _ time.Time) bool {
	haystack := title
	if f.spec.CaseInsensitive {
		haystack = strings.ToLower(haystack)
	}
	found := f.keyword == "" || strings.Contains(haystack, f.keyword)
	if f.spec.Exclude {
		return !found
	}
	return found
}

func (f *keywordFilter) NextMatchTime(time.Time) time.Time { return time.Time{} }

type categoryFilter struct {
	spec       Spec
	categories map[string]bool
}

func newCategoryFilter(spec Spec) *categoryFilter {
	set := make(map[string]bool, len(spec.Categories))
	for _, c := range spec.Categories {
		set[c] = true
	}
	return &categoryFilter{spec: spec, categories: set}
}

func (f *categoryFilter) Kind() Kind { return KindCategory }

func (f *categoryFilter) Match(_, category string, _ time.Time) bool {
	allowed := len(f.categories) == 0 || f.categories[category]
	if f.spec.Exclude {
		return !allowed
	}
	return allowed
}

func (f *categoryFilter) NextMatchTime(time.Time) time.Time { return time.Time{} }

type regexFilter struct {
	spec Spec
	re   *regexp.Regexp
}

func newRegexFilter(spec Spec) (*regexFilter, error) {
	pattern := spec.Pattern
	if spec.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid regex %q: %w", spec.Pattern, err)
	}
	return &regexFilter{spec: spec, re: re}, nil
}

func (f *regexFilter) Kind() Kind { return KindRegex }

func (f *regexFilter) Match(title, _ string, _ time.Time) bool {
	found := f.re.MatchString(title)
	if f.spec.Exclude {
		return !found
	}
	return found
}

func (f *regexFilter) NextMatchTime(time.Time) time.Time { return time.Time{} }

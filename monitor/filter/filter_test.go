package filter

import (
	"testing"
	"time"
)

func TestKeywordFilterExcludeMatchingTitle(t *testing.T) {
	f := newKeywordFilter(Spec{Pattern: "rerun", Exclude: true, CaseInsensitive: true})
	if f.Match("Tonight: RERUN special", "", time.Now()) {
		t.Fatal("expected an excluded keyword match to fail the filter")
	}
	if !f.Match("Tonight: live show", "", time.Now()) {
		t.Fatal("expected a non-matching title to pass an exclude filter")
	}
}

func TestCategoryFilterAllowList(t *testing.T) {
	f := newCategoryFilter(Spec{Categories: []string{"Just Chatting", "Gaming"}})
	if !f.Match("", "Gaming", time.Now()) {
		t.Fatal("expected an allow-listed category to pass")
	}
	if f.Match("", "Music", time.Now()) {
		t.Fatal("expected a category outside the allow-list to fail")
	}
}

func TestRegexFilterCaseInsensitive(t *testing.T) {
	f, err := newRegexFilter(Spec{Pattern: "^\\[AD\\]", CaseInsensitive: true})
	if err != nil {
		t.Fatalf("newRegexFilter: %v", err)
	}
	if !f.Match("[ad] sponsored stream", "", time.Now()) {
		t.Fatal("expected the case-insensitive regex to match")
	}
	if f.Match("regular stream", "", time.Now()) {
		t.Fatal("expected a non-matching title to fail")
	}
}

func TestTimeFilterHourWindowWrapsPastMidnight(t *testing.T) {
	if !inHourWindow(23, 22, 6) {
		t.Fatal("expected 23:00 to be inside a 22:00-06:00 window")
	}
	if !inHourWindow(3, 22, 6) {
		t.Fatal("expected 03:00 to be inside a 22:00-06:00 window")
	}
	if inHourWindow(12, 22, 6) {
		t.Fatal("expected 12:00 to be outside a 22:00-06:00 window")
	}
}

func TestTimeFilterNextMatchTime(t *testing.T) {
	f, err := newTimeFilter(Spec{Days: []time.Weekday{time.Monday}, StartHour: 18, EndHour: 22, Timezone: "UTC"})
	if err != nil {
		t.Fatalf("newTimeFilter: %v", err)
	}
	// A Tuesday at noon is outside the window; the next match must be
	// the following Monday at 18:00 UTC.
	now := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC) // a Tuesday
	next := f.NextMatchTime(now)
	if next.Weekday() != time.Monday || next.Hour() != 18 {
		t.Fatalf("expected the next match at 18:00 on the following Monday, got %v", next)
	}
}

func TestCronFilterMatchesWithinTolerance(t *testing.T) {
	f, err := newCronFilter(Spec{Expression: "0 0 20 * * *", Timezone: "UTC", Tolerance: time.Hour})
	if err != nil {
		t.Fatalf("newCronFilter: %v", err)
	}
	scheduled := time.Date(2026, 8, 3, 20, 0, 0, 0, time.UTC)
	if !f.Match("", "", scheduled.Add(30*time.Minute)) {
		t.Fatal("expected a time within the tolerance window after the cron tick to match")
	}
	if f.Match("", "", scheduled.Add(-time.Minute)) {
		t.Fatal("expected a time before the cron tick to not match")
	}
	if f.Match("", "", scheduled.Add(2*time.Hour)) {
		t.Fatal("expected a time past the tolerance window to not match")
	}
}

func TestChainEvaluateStopsAtFirstNonMatch(t *testing.T) {
	chain, err := NewChain([]Spec{
		{Kind: KindCategory, Categories: []string{"Gaming"}},
		{Kind: KindKeyword, Pattern: "rerun", Exclude: true, CaseInsensitive: true},
	})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	ok, reason, _ := chain.Evaluate("Big rerun night", "Gaming", time.Now())
	if ok || reason != string(KindKeyword) {
		t.Fatalf("expected the keyword filter to fail the chain, got ok=%v reason=%q", ok, reason)
	}
	ok, _, _ = chain.Evaluate("Fresh content", "Gaming", time.Now())
	if !ok {
		t.Fatal("expected a matching title/category to pass the whole chain")
	}
}

package pagination

import "testing"

func TestFromQuery(t *testing.T) {
	cases := []struct {
		name      string
		page      string
		limit     string
		wantPage  int
		wantLimit int
	}{
		{"defaults", "", "", 1, DefaultLimit},
		{"explicit", "3", "50", 3, 50},
		{"zero page clamps", "0", "10", 1, 10},
		{"negative page clamps", "-2", "10", 1, 10},
		{"over max limit clamps", "1", "500", 1, MaxLimit},
		{"garbage input", "abc", "xyz", 1, DefaultLimit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := FromQuery(tc.page, tc.limit)
			if p.Page != tc.wantPage || p.Limit != tc.wantLimit {
				t.Fatalf("FromQuery(%q, %q) = %+v, want page=%d limit=%d",
					tc.page, tc.limit, p, tc.wantPage, tc.wantLimit)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	if got := (Params{Page: 1, Limit: 20}).Offset(); got != 0 {
		t.Fatalf("expected offset 0, got %d", got)
	}
	if got := (Params{Page: 4, Limit: 25}).Offset(); got != 75 {
		t.Fatalf("expected offset 75, got %d", got)
	}
}

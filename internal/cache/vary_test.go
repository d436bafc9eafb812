package cache

import "testing"

func TestRequestsMatch(t *testing.T) {
	en := HeaderSnapshot{"accept-language": {"en"}}
	fr := HeaderSnapshot{"accept-language": {"fr"}}
	enGzip := HeaderSnapshot{"accept-language": {"en"}, "accept-encoding": {"gzip"}}

	testCases := []struct {
		name string
		vary string
		a, b HeaderSnapshot
		want bool
	}{
		{"same value", "Accept-Language", en, en, true},
		{"different value", "Accept-Language", en, fr, false},
		{"empty vary", "", en, fr, true},
		{"blank vary", "  ", en, fr, true},
		{"both absent", "Cookie", en, fr, true},
		{"one absent", "Accept-Encoding", enGzip, en, false},
		{"case insensitive", "ACCEPT-LANGUAGE", en, en, true},
		{"underscore name", "accept_language", en, fr, false},
		{"comma list", "Accept-Encoding, Accept-Language", enGzip, enGzip, true},
		{"whitespace list", "Accept-Encoding Accept-Language", enGzip, en, false},
		{"multi value order", "X-A", HeaderSnapshot{"x-a": {"1", "2"}}, HeaderSnapshot{"x-a": {"2", "1"}}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequestsMatch(tc.vary, tc.a, tc.b); got != tc.want {
				t.Fatalf("RequestsMatch(%q) = %v, want %v", tc.vary, got, tc.want)
			}
		})
	}
}

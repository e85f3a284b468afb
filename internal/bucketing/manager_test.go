package bucketing

import (
	"testing"
	"time"
)

func TestDedupKeyStable(t *testing.T) {
	f := NewFingerprinter()

	a := f.DedupKey("a@example.com", "+919876543210", "Pricing")
	b := f.DedupKey("a@example.com", "+919876543210", "Pricing")
	if a != b {
		t.Fatalf("DedupKey not stable: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("len(DedupKey) = %d, want 32", len(a))
	}
}

func TestDedupKeyFieldBoundaries(t *testing.T) {
	f := NewFingerprinter()

	cases := [][3]string{
		{"a@example.com", "+919876543210", "Pricing"},
		{"a@example.com", "+919876543210", "pricing"},
		{"a@example.com", "+919876543211", "Pricing"},
		{"a@example.co", "m+919876543210", "Pricing"},
	}
	seen := make(map[string]int)
	for i, c := range cases {
		key := f.DedupKey(c[0], c[1], c[2])
		if j, ok := seen[key]; ok {
			t.Fatalf("case %d collides with case %d", i, j)
		}
		seen[key] = i
	}
}

func TestDateBucketUsesUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, 3, 2, 1, 0, 0, 0, ist)
	if got := DateBucket(ts); got != "2024-03-01" {
		t.Fatalf("DateBucket = %q, want 2024-03-01", got)
	}
}

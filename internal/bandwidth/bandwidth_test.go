package bandwidth

import "testing"

func TestParseRate_LegacySuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		// bits/s divided by dnsPacketBits, truncated toward zero.
		{"1M", 1562},
		{"1G", 1_562_500},
		{"100K", 156},
		{"750K", 1171},
		{"2.5M", 3906},
	}
	for _, c := range cases {
		got, err := ParseRate(c.in)
		if err != nil {
			t.Fatalf("ParseRate(%q) error = %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseRate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseRate_RawPPS(t *testing.T) {
	got, err := ParseRate("1200")
	if err != nil {
		t.Fatalf("ParseRate() error = %v", err)
	}
	if got != 1200 {
		t.Errorf("ParseRate(\"1200\") = %d, want 1200", got)
	}
}

func TestParseRate_BitsPerSecondSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10mbps", 15625},
		{"2.5Mbps", 3906},
		{"1Gbps", 1_562_500},
	}
	for _, c := range cases {
		got, err := ParseRate(c.in)
		if err != nil {
			t.Fatalf("ParseRate(%q) error = %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseRate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseRate_PacketsPerSecondSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500kpps", 500_000},
		{"1200pps", 1200},
	}
	for _, c := range cases {
		got, err := ParseRate(c.in)
		if err != nil {
			t.Fatalf("ParseRate(%q) error = %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseRate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseRate_InvalidFormat(t *testing.T) {
	for _, bad := range []string{"", "abc", "-5M", "0K"} {
		if _, err := ParseRate(bad); err == nil {
			t.Errorf("ParseRate(%q) = nil error, want error", bad)
		}
	}
}

func TestDefaultResolvers_NonEmpty(t *testing.T) {
	if len(DefaultResolvers()) == 0 {
		t.Fatal("DefaultResolvers() returned no resolvers")
	}
}

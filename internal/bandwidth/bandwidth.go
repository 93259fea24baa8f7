// Package bandwidth parses the --band expression used to cap send
// rate: bit-rate suffixes (kbps/mbps/gbps/bps), packet-rate suffixes
// (kpps/mpps/gpps/pps), legacy bare K/M/G (interpreted as bits/sec),
// and a raw integer (interpreted as packets/sec).
package bandwidth

import (
	"fmt"
	"strconv"
	"strings"
)

// dnsPacketBits is the assumed average DNS query packet size (80
// bytes) used to convert a bit rate into an approximate packet rate.
const dnsPacketBits = 80.0 * 8.0

// ParseRate converts a bandwidth expression into packets/sec.
func ParseRate(band string) (int64, error) {
	s := strings.TrimSpace(band)
	if s == "" {
		return 0, fmt.Errorf("empty band expression")
	}
	lower := strings.ToLower(s)

	switch {
	case strings.HasSuffix(lower, "kbps"):
		return bitsSuffix(lower, 4, 1_000)
	case strings.HasSuffix(lower, "mbps"):
		return bitsSuffix(lower, 4, 1_000_000)
	case strings.HasSuffix(lower, "gbps"):
		return bitsSuffix(lower, 4, 1_000_000_000)
	case strings.HasSuffix(lower, "bps"):
		return bitsSuffix(lower, 3, 1)
	case strings.HasSuffix(lower, "kpps"):
		return packetsSuffix(lower, 4, 1_000)
	case strings.HasSuffix(lower, "mpps"):
		return packetsSuffix(lower, 4, 1_000_000)
	case strings.HasSuffix(lower, "gpps"):
		return packetsSuffix(lower, 4, 1_000_000_000)
	case strings.HasSuffix(lower, "pps"):
		return packetsSuffix(lower, 3, 1)
	}

	if last := lower[len(lower)-1]; last == 'g' || last == 'm' || last == 'k' {
		mult := map[byte]float64{'g': 1_000_000_000, 'm': 1_000_000, 'k': 1_000}[last]
		value, err := parseNum(lower[:len(lower)-1])
		if err != nil {
			return 0, err
		}
		pps := int64((value * mult) / dnsPacketBits)
		if pps <= 0 {
			return 0, fmt.Errorf("calculated pps <= 0 for band: %s", band)
		}
		return pps, nil
	}

	if isAllDigits(lower) {
		raw, err := strconv.ParseInt(lower, 10, 64)
		if err != nil {
			return 0, err
		}
		if raw < 0 {
			raw = 0
		}
		return raw, nil
	}

	return 0, fmt.Errorf("invalid band format: %s", band)
}

func bitsSuffix(lower string, suffixLen int, mult float64) (int64, error) {
	value, err := parseNum(lower[:len(lower)-suffixLen])
	if err != nil {
		return 0, err
	}
	return int64((value * mult) / dnsPacketBits), nil
}

func packetsSuffix(lower string, suffixLen int, mult float64) (int64, error) {
	value, err := parseNum(lower[:len(lower)-suffixLen])
	if err != nil {
		return 0, err
	}
	return int64(value * mult), nil
}

func parseNum(txt string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(txt), 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("band value must be > 0")
	}
	return v, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DefaultResolvers is the built-in fallback resolver list used when
// the operator doesn't supply --resolvers.
func DefaultResolvers() []string {
	return []string{"1.1.1.1", "8.8.8.8", "9.9.9.9", "208.67.222.222", "76.76.2.0"}
}

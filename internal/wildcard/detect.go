// Package wildcard probes an apex domain for catch-all ("wildcard")
// DNS answers and filters candidate results that merely reproduce
// them.
package wildcard

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/dnsscience/submapper/internal/codec"
)

// Set is the union of answer signatures observed from wildcard probes
// against one apex. A candidate's answer is filtered if it is a
// subset of (or equal to) this union.
type Set struct {
	union map[string]struct{}
}

func randomLabel(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

func answerKeys(ans codec.Answer) map[string]struct{} {
	keys := make(map[string]struct{}, len(ans.Records))
	for _, r := range ans.Records {
		keys[string(r.Type)+":"+r.Data] = struct{}{}
	}
	return keys
}

// Querier is the subset of codec.Query the detector needs, so tests
// can substitute a fake resolver.
type Querier func(ctx context.Context, host, resolver string, qtype codec.RecordType) (codec.Answer, error)

// Detect runs the basic wildcard probe: 3 random labels under apex,
// rotating through resolvers by index so each probe hits a different
// endpoint when more than one is configured.
func Detect(ctx context.Context, apex string, resolvers []string, q Querier) Set {
	const probes = 3
	var set Set
	if len(resolvers) == 0 {
		return set
	}
	for i := 0; i < probes; i++ {
		resolver := resolvers[i%len(resolvers)]
		host := randomLabel(12) + "." + apex
		ans, err := q(ctx, host, resolver, codec.TypeA)
		if err != nil || ans.Rcode != codec.NoError || len(ans.Records) == 0 {
			continue
		}
		if set.union == nil {
			set.union = make(map[string]struct{})
		}
		for k := range answerKeys(ans) {
			set.union[k] = struct{}{}
		}
	}
	return set
}

// DetectAdvanced runs a larger probe (6 attempts, resolver chosen
// uniformly at random each time) and keeps only answer signatures
// that recur at or above the given frequency threshold (fraction of
// attempts, default 0.6), reducing false positives from resolvers
// that occasionally answer a genuinely-nonexistent name with NXDOMAIN
// substitutes or transient garbage.
func DetectAdvanced(ctx context.Context, apex string, resolvers []string, q Querier, threshold float64) Set {
	const attempts = 6
	var set Set
	if len(resolvers) == 0 {
		return set
	}
	if threshold <= 0 {
		threshold = 0.6
	}

	counts := make(map[string]int)
	total := 0
	for i := 0; i < attempts; i++ {
		resolver := resolvers[rand.Intn(len(resolvers))]
		host := randomLabel(12) + "." + apex
		ans, err := q(ctx, host, resolver, codec.TypeA)
		if err != nil || ans.Rcode != codec.NoError || len(ans.Records) == 0 {
			continue
		}
		total++
		for k := range answerKeys(ans) {
			counts[k]++
		}
	}
	if total == 0 {
		return set
	}

	min := int(math.Ceil(threshold * float64(attempts)))
	kept := make(map[string]struct{})
	for k, c := range counts {
		if c >= min {
			kept[k] = struct{}{}
		}
	}
	if len(kept) > 0 {
		set.union = kept
	}
	return set
}

// IsWildcard reports whether ans is a subset of (or identical to) the
// union of all wildcard probe answers — i.e. it is indistinguishable
// from the catch-all response and should be filtered.
func (s Set) IsWildcard(ans codec.Answer) bool {
	if len(s.union) == 0 {
		return false
	}
	keys := answerKeys(ans)
	if len(keys) == 0 {
		return false
	}
	return isSubset(keys, s.union)
}

func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Active reports whether any wildcard signature was observed at all.
func (s Set) Active() bool { return len(s.union) > 0 }

// keys returns the sorted union of all probe signatures, for tests
// and diagnostics.
func (s Set) keys() []string {
	out := make([]string, 0, len(s.union))
	for k := range s.union {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

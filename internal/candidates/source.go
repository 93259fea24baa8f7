// Package candidates supplies the labels a scan tries: a base
// wordlist (file-supplied or the embedded default), a frequency-based
// predictor that mines already-discovered hosts for new seeds, and an
// optional deterministic heuristic generator.
package candidates

import (
	"bufio"
	_ "embed"
	"os"
	"sort"
	"strings"
)

//go:embed wordlist.txt
var defaultWordlist string

// BasicSeeds are the always-on predictor seeds used to bootstrap
// dynamic extension before any hosts have been discovered.
func BasicSeeds() []string {
	return []string{"www", "api", "cdn", "img", "static", "dev", "test", "stage", "beta", "admin", "mail"}
}

// Default returns the compiled-in wordlist, one label per line.
func Default() []string {
	return parseLines(defaultWordlist)
}

// LoadFile reads a wordlist file: one label per line, blank lines and
// '#'-prefixed comments dropped.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func parseLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

var commonServiceTokens = []string{
	"edge", "gateway", "console", "dashboard", "service", "node", "cluster", "download", "update", "images",
	"assets", "files", "pkg", "pkgcdn", "client", "backend", "front", "portal", "account", "user", "auth",
	"oauth", "sso", "pay", "payment", "order", "trade", "shop", "store", "cart", "data", "db", "cache",
	"redis", "mysql", "pgsql", "elasticsearch", "search", "kibana", "grafana", "monitor", "metrics", "status",
	"health", "log", "logs", "logging", "report", "analytics", "stat", "stats", "event", "events", "message",
	"msg", "queue", "mq", "rabbit", "kafka", "upload", "dl", "api2", "api3", "mobile", "wap",
	"h5", "web", "webapp", "mini", "miniapp", "internal", "intra", "secure", "sec", "security", "scan", "scanner",
}

// DynamicExtend ranks the first-label token of each discovered host by
// frequency, keeps the top N not already present in base, and unions
// the result with a fixed common-service token list. The result is
// sorted and deduplicated.
func DynamicExtend(discovered []string, base []string, topN int) []string {
	freq := make(map[string]int)
	for _, d := range discovered {
		first, _, _ := strings.Cut(d, ".")
		if len(first) >= 3 && len(first) <= 32 {
			freq[first]++
		}
	}

	type labelCount struct {
		label string
		count int
	}
	items := make([]labelCount, 0, len(freq))
	for label, count := range freq {
		items = append(items, labelCount{label, count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].label < items[j].label
	})

	baseSet := make(map[string]struct{}, len(base))
	for _, b := range base {
		baseSet[b] = struct{}{}
	}

	out := make(map[string]struct{})
	for i, item := range items {
		if i >= topN {
			break
		}
		if _, skip := baseSet[item.label]; !skip {
			out[item.label] = struct{}{}
		}
	}
	for _, c := range commonServiceTokens {
		if _, skip := baseSet[c]; !skip {
			out[c] = struct{}{}
		}
	}

	result := make([]string, 0, len(out))
	for k := range out {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

var (
	heuristicEnvs     = []string{"prod", "prod1", "prod2", "staging", "stage", "beta", "dev", "test", "internal", "qa", "preprod"}
	heuristicServices = []string{"api", "www", "app", "admin", "portal", "mail", "ftp", "cdn", "static", "img", "svc", "gateway"}
	heuristicRegions  = []string{"us", "eu", "ap", "cn", "sg", "jp", "kr", "in", "br", "ca"}
	heuristicNums     = []string{"1", "2", "01", "02", "03", "2023", "2024"}
)

// GenerateHeuristics deterministically expands words into env/service/
// region/number combinations, capped at max. It is intentionally
// conservative: no randomness, same input always yields the same
// output set.
func GenerateHeuristics(words []string, max int) []string {
	set := make(map[string]struct{})

	full := func() bool { return len(set) >= max }
	add := func(s string) bool {
		if full() {
			return true
		}
		set[s] = struct{}{}
		return len(set) >= max
	}

	limit := words
	if len(limit) > 500 {
		limit = limit[:500]
	}
	for _, w := range limit {
		if full() {
			break
		}
		base := firstToken(w)
		if base == "" {
			continue
		}
		if add(base) {
			break
		}
		for _, svc := range heuristicServices {
			if add(base+svc) || add(base+"-"+svc) {
				break
			}
		}
		if full() {
			break
		}
		for _, env := range heuristicEnvs {
			if add(base+"-"+env) || add(base+env) {
				break
			}
		}
		if full() {
			break
		}
		for _, r := range heuristicRegions {
			if add(base+"-"+r) || add(base+r) {
				break
			}
		}
		if full() {
			break
		}
		for _, n := range heuristicNums {
			if add(base + n) {
				break
			}
		}
	}

	for _, svc := range heuristicServices {
		if full() {
			break
		}
		for _, env := range heuristicEnvs {
			if add(svc + "-" + env) {
				break
			}
		}
		if full() {
			break
		}
		for _, r := range heuristicRegions {
			if add(svc + "-" + r) {
				break
			}
		}
	}

	top := heuristicServices
	if len(top) > 10 {
		top = top[:10]
	}
	for _, svc := range top {
		if full() {
			break
		}
		for _, n := range heuristicNums {
			if add(svc + n) {
				break
			}
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func firstToken(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if i == 0 {
		return ""
	}
	if i < 0 {
		return strings.TrimSpace(s)
	}
	return s[:i]
}

// Package codec builds and exchanges a single DNS query over UDP and
// decodes the answer into the small record shape the rest of the
// scanner cares about (A/AAAA/CNAME/TXT) plus a coarse rcode class.
package codec

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dnsscience/submapper/internal/pool"
	"github.com/dnsscience/submapper/internal/random"
)

// Rcode classifies the outcome of a query attempt. Transport failures
// and timeouts are folded into Timeout rather than surfaced as a Go
// error — callers (the orchestrator's retry loop, the wildcard
// detector) only ever need to branch on this.
type Rcode string

const (
	NoError  Rcode = "NOERROR"
	NXDomain Rcode = "NXDOMAIN"
	ServFail Rcode = "SERVFAIL"
	Refused  Rcode = "REFUSED"
	Timeout  Rcode = "TIMEOUT"
	Other    Rcode = "OTHER"
)

// RecordType enumerates the resource record kinds the scanner keeps.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeTXT   RecordType = "TXT"
)

// Record is one answer RR, reduced to the fields downstream consumers
// (output writers, wildcard detector) need.
type Record struct {
	Type RecordType
	Data string
}

// Answer is the outcome of a single query attempt.
type Answer struct {
	Rcode   Rcode
	Records []Record
}

// Options tunes an individual exchange.
type Options struct {
	// Timeout bounds the full round trip, including the UDP read.
	Timeout time.Duration

	// Enable0x20 randomizes query-name letter case and rejects
	// responses that echo a different case back, guarding against
	// off-path answer spoofing.
	Enable0x20 bool
}

var rtypeMap = map[uint16]RecordType{
	dns.TypeA:     TypeA,
	dns.TypeAAAA:  TypeAAAA,
	dns.TypeCNAME: TypeCNAME,
	dns.TypeTXT:   TypeTXT,
}

func apply0x20(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	var coin [1]byte
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			if _, err := rand.Read(coin[:]); err == nil && coin[0]&1 == 1 {
				if c >= 'a' && c <= 'z' {
					c -= 32
				} else {
					c += 32
				}
			}
		}
		b.WriteRune(c)
	}
	return b.String()
}

// BuildQuery constructs a recursive A/AAAA/CNAME/TXT query for host.
// The returned message is drawn from the shared message pool; callers
// that exchange it themselves (rather than going through Query) should
// return it with pool.PutMessage once they're done with it.
func BuildQuery(host string, qtype RecordType, enable0x20 bool) *dns.Msg {
	name := dns.Fqdn(host)
	if enable0x20 {
		name = apply0x20(name)
	}

	t := dns.TypeA
	switch qtype {
	case TypeAAAA:
		t = dns.TypeAAAA
	case TypeCNAME:
		t = dns.TypeCNAME
	case TypeTXT:
		t = dns.TypeTXT
	}

	m := pool.GetMessage()
	m.Id = random.TransactionID()
	m.RecursionDesired = true
	m.SetQuestion(name, t)
	return m
}

// Query performs one UDP exchange against resolver (host:port or bare
// IP, in which case port 53 is assumed). It never returns a non-nil
// error for ordinary DNS-level failures — socket errors and timeouts
// both collapse to Answer{Rcode: Timeout}, matching how the rest of
// the scanner treats "no usable answer arrived in time".
func Query(ctx context.Context, host, resolver string, qtype RecordType, opts Options) (Answer, error) {
	addr := resolver
	if !strings.Contains(addr, ":") {
		addr = addr + ":53"
	}

	m := BuildQuery(host, qtype, opts.Enable0x20)
	defer pool.PutMessage(m)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	c := &dns.Client{Net: "udp", UDPSize: 512, Timeout: timeout}
	in, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return Answer{Rcode: Timeout}, nil
	}

	if opts.Enable0x20 && len(in.Question) > 0 && len(m.Question) > 0 {
		if in.Question[0].Name != m.Question[0].Name {
			return Answer{Rcode: Timeout}, nil
		}
	}

	ans := Answer{Rcode: classify(in.Rcode)}
	for _, rr := range in.Answer {
		rt, ok := rtypeMap[rr.Header().Rrtype]
		if !ok {
			continue
		}
		ans.Records = append(ans.Records, Record{Type: rt, Data: rdata(rr)})
	}
	return ans, nil
}

func classify(rcode int) Rcode {
	switch rcode {
	case dns.RcodeSuccess:
		return NoError
	case dns.RcodeNameError:
		return NXDomain
	case dns.RcodeServerFailure:
		return ServFail
	case dns.RcodeRefused:
		return Refused
	default:
		return Other
	}
}

// rdata extracts just the RDATA portion of an RR's text form.
func rdata(rr dns.RR) string {
	full := rr.String()
	head := rr.Header().String()
	if len(full) <= len(head) {
		return ""
	}
	return strings.TrimSpace(full[len(head):])
}

// SystemLookup falls back to the host OS resolver when the resolver
// pool has no usable upstream left, mirroring what a plain getaddrinfo
// call would return.
func SystemLookup(ctx context.Context, host string) ([]string, error) {
	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// String renders an Answer for debugging (test subcommand, logs).
func (a Answer) String() string {
	return fmt.Sprintf("rcode=%s records=%d", a.Rcode, len(a.Records))
}

package ratelimit

import (
	"net"
	"net/http"
	"sort"
	"strings"
)

// RuleSet selects the rule for a route by longest matching configured
// prefix, falling back to a default rule. Configure at startup; Match is
// safe for concurrent readers once no more Add calls happen.
type RuleSet struct {
	def    Rule
	routes []routeRule
}

type routeRule struct {
	prefix string
	rule   Rule
}

func NewRuleSet(def Rule) *RuleSet {
	return &RuleSet{def: def}
}

// Add registers a rule for every route starting with prefix. Later Adds with
// the same prefix override earlier ones.
func (rs *RuleSet) Add(prefix string, rule Rule) *RuleSet {
	for i, rr := range rs.routes {
		if rr.prefix == prefix {
			rs.routes[i].rule = rule
			return rs
		}
	}
	rs.routes = append(rs.routes, routeRule{prefix: prefix, rule: rule})
	// longest prefix first so Match can take the first hit
	sort.SliceStable(rs.routes, func(i, j int) bool {
		return len(rs.routes[i].prefix) > len(rs.routes[j].prefix)
	})
	return rs
}

// Match returns (bucket, rule) for route: bucket is the matched prefix, or
// "default" when only the fallback rule applies.
func (rs *RuleSet) Match(route string) (string, Rule) {
	for _, rr := range rs.routes {
		if strings.HasPrefix(route, rr.prefix) {
			return rr.prefix, rr.rule
		}
	}
	return "default", rs.def
}

// ClientKey derives the client identifier for a request: the first hop of
// X-Forwarded-For when present, then X-Real-IP, then the transport-level
// peer address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package transport resolves, per URL, the HTTP client, effective proxy,
// injected headers and mirror candidate list a download attempt should
// use, plus a cloud-storage URL resolver that runs ahead of the HEAD
// probe. Client caching follows dbdriver/bunt.go's lazy-memoize shape;
// pattern matching and rule precedence are ported 1:1 from
// transport/mod.rs's best_pattern_match.
package transport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/store"
)

// Policy bundles the transport-affecting pieces of a settings+rules
// snapshot needed to compute effective proxy/headers/mirrors for one URL.
type Policy struct {
	clients *cmn.ClientCache
}

func NewPolicy() *Policy {
	return &Policy{clients: cmn.NewClientCache()}
}

// ClientFor returns the cached *http.Client that should dial through
// proxyURL, creating it on first use. An empty proxyURL returns the
// direct client.
func (p *Policy) ClientFor(proxyURL string) (*http.Client, error) {
	return p.clients.Get(proxyURL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// patternSpecificity ranks a host pattern: exact hosts outrank suffix
// globs, and within a class a longer pattern wins.
func patternSpecificity(pattern string) (class int, length int) {
	if !strings.Contains(pattern, "*") {
		return 2, len(pattern)
	}
	suffix := strings.TrimPrefix(pattern, "*.")
	suffix = strings.TrimPrefix(suffix, "*")
	return 1, len(suffix)
}

func patternMatches(pattern, host string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	h := strings.ToLower(strings.TrimSpace(host))
	if p == "" {
		return false
	}
	if !strings.Contains(p, "*") {
		return p == h
	}
	if suffix, ok := strings.CutPrefix(p, "*."); ok {
		return strings.HasSuffix(h, "."+suffix)
	}
	return p == "*"
}

type patterned interface {
	patternValue() string
}

func bestPatternMatch[T patterned](rules []T, host string) (zero T, ok bool) {
	var best T
	var bestSpec [2]int
	found := false
	for _, r := range rules {
		if !patternMatches(r.patternValue(), host) {
			continue
		}
		class, length := patternSpecificity(r.patternValue())
		spec := [2]int{class, length}
		if !found || spec[0] > bestSpec[0] || (spec[0] == bestSpec[0] && spec[1] > bestSpec[1]) {
			best, bestSpec, found = r, spec, true
		}
	}
	if !found {
		return zero, false
	}
	return best, true
}

type proxyRuleAdapter struct{ *store.ProxyRule }

func (a proxyRuleAdapter) patternValue() string { return a.Pattern }

type headerRuleAdapter struct{ *store.HeaderRule }

func (a headerRuleAdapter) patternValue() string { return a.Pattern }

type mirrorRuleAdapter struct{ *store.MirrorRule }

func (a mirrorRuleAdapter) patternValue() string { return a.Pattern }

// EffectiveProxyURL implements §4.B's "effective proxy for a URL": the
// forced-proxy fallback chain for a given download is resolved by the
// caller (job.resolveProxy, per SPEC_FULL §9(b)) before falling back to
// this rule-engine computation.
func EffectiveProxyURL(globalProxyEnabled bool, globalProxyURL string, rules []*store.ProxyRule, rawURL string) string {
	if !globalProxyEnabled || strings.TrimSpace(globalProxyURL) == "" {
		return ""
	}
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}
	var enabled []proxyRuleAdapter
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, proxyRuleAdapter{r})
		}
	}
	best, ok := bestPatternMatch(enabled, host)
	if !ok || !best.UseProxy {
		return ""
	}
	if best.ProxyURLOverride != nil && *best.ProxyURLOverride != "" {
		return *best.ProxyURLOverride
	}
	return globalProxyURL
}

// headerMode mirrors the three injection modes from §4.B.
type headerMode string

const (
	modeOverride     headerMode = "override"
	modeAddIfMissing headerMode = "add_if_missing"
	modeAdd          headerMode = "add"
)

// ApplyHeaderRules finds the best-matching enabled HeaderRule for rawURL's
// host and injects its headers into existing, a map the caller will set
// on the outgoing *http.Request. Empty/invalid names or values are
// silently skipped; rules may nest their spec under a "headers" key.
func ApplyHeaderRules(rules []*store.HeaderRule, rawURL string, existing map[string]string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}
	var enabled []headerRuleAdapter
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, headerRuleAdapter{r})
		}
	}
	best, ok := bestPatternMatch(enabled, host)
	if !ok {
		return
	}

	spec := best.HeadersSpec
	if nested, has := spec["headers"]; has {
		if m, ok := nested.(map[string]interface{}); ok {
			spec = m
		}
	}

	for name, raw := range spec {
		if strings.TrimSpace(name) == "" {
			continue
		}
		value, mode := parseHeaderValue(raw)
		if value == "" {
			continue
		}
		switch headerMode(mode) {
		case modeAddIfMissing, modeAdd:
			if _, present := existing[name]; !present {
				existing[name] = value
			}
		default:
			existing[name] = value
		}
	}
}

func parseHeaderValue(raw interface{}) (value, mode string) {
	mode = string(modeOverride)
	switch v := raw.(type) {
	case string:
		return v, mode
	case map[string]interface{}:
		if s, ok := v["value"].(string); ok {
			value = s
		}
		if m, ok := v["mode"].(string); ok && m != "" {
			mode = m
		}
		return value, mode
	default:
		return "", mode
	}
}

// MirrorCandidates returns the ordered list of base URLs from the
// best-matching enabled MirrorRule, each combined with rawURL's original
// path and query.
func MirrorCandidates(rules []*store.MirrorRule, rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	var enabled []mirrorRuleAdapter
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, mirrorRuleAdapter{r})
		}
	}
	best, ok := bestPatternMatch(enabled, u.Hostname())
	if !ok {
		return nil
	}

	original := u.String()
	var out []string
	for _, base := range best.CandidateBaseURLs {
		bu, err := url.Parse(base)
		if err != nil {
			continue
		}
		bu.Path = u.Path
		bu.RawQuery = u.RawQuery
		candidate := bu.String()
		// A mirror rule must never downgrade an https:// original to a
		// plain http:// candidate.
		if cmn.IsHTTPS(original) && !cmn.IsHTTPS(candidate) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// BuildAttemptURLs assembles the ordered candidate sequence the job
// failover loop walks: [original, mirror_1, mirror_2, ...].
func BuildAttemptURLs(rules []*store.MirrorRule, originalURL string) []string {
	return append([]string{originalURL}, MirrorCandidates(rules, originalURL)...)
}

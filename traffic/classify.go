package traffic

import (
	"net/http"
	"regexp"
	"strings"
)

// ─── Ignore policy ────────────────────────────────────────────────────────────

var ignoredKeywords = []string{"copilot", "github", "vscode", "visualstudio"}

var ignoredSuffixes = []string{
	".google.com", ".gstatic.com", ".googleusercontent.com",
	".yandex.ru", ".yandex.net",
	".github.com", ".exp-tas.com", ".visualstudio.com", ".vscode-sync.trafficmanager.net",
	".chatgpt.com", ".facebook.com", ".doubleclick.net",
	".apple.com", ".windowsupdate.com", ".microsoft.com",
	".cloudflare.com", ".challenge.cloudflare.com", ".challenges.cloudflare.com",
	".akamaihd.net", ".perimeterx.net", ".hcaptcha.com", ".recaptcha.net",
}

// challengeCookies mark a vendor challenge in Set-Cookie.
var challengeCookies = []string{"__cf_bm", "cf_clearance", "ak_bmsc", "datadome"}

// escalationCookies is the subset that, with a blocking status, escalates.
var escalationCookies = []string{"__cf_bm", "ak_bmsc", "datadome"}

var challengePaths = []string{"/cdn-cgi/", "/challenge", "/captcha"}

// MatchSuffix reports whether host equals a suffix without its leading dot
// or ends with the suffix.
func MatchSuffix(host string, suffixes []string) bool {
	h := strings.ToLower(host)
	for _, s := range suffixes {
		s = strings.ToLower(s)
		if h == strings.TrimPrefix(s, ".") || strings.HasSuffix(h, s) {
			return true
		}
	}
	return false
}

func matchesIgnoreList(host string) bool {
	h := strings.ToLower(host)
	for _, k := range ignoredKeywords {
		if strings.Contains(h, k) {
			return true
		}
	}
	return MatchSuffix(h, ignoredSuffixes)
}

// Ignored classifies an exchange.  A host on the ignore list is ignored
// unless resp (which may be nil) carries error or challenge evidence.
func Ignored(host string, resp *http.Response) bool {
	if !matchesIgnoreList(host) {
		return false
	}
	if resp == nil {
		return true
	}
	return !hasEvidence(resp)
}

func hasEvidence(resp *http.Response) bool {
	if resp.StatusCode >= 400 {
		return true
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return true
	}
	return containsAny(setCookie(resp.Header), challengeCookies)
}

// ChallengePath reports whether path is a vendor challenge endpoint.
func ChallengePath(path string) bool {
	return containsAny(strings.ToLower(path), challengePaths)
}

// challengeSignature reports whether the exchange belongs to a challenge and
// must not be mutated.
func challengeSignature(req *http.Request, resp *http.Response) bool {
	if ChallengePath(req.URL.Path) {
		return true
	}
	if containsAny(setCookie(resp.Header), challengeCookies) {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare")
}

// setCookie joins every Set-Cookie value, lowercased.
func setCookie(h http.Header) string {
	return strings.ToLower(strings.Join(h.Values("Set-Cookie"), "\n"))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ─── Header stripping ─────────────────────────────────────────────────────────

var stripHeaders = map[string]bool{}

func init() {
	for _, h := range []string{
		"connection", "proxy-connection", "via", "forwarded",
		"x-forwarded-for", "x-forwarded-host", "x-forwarded-proto", "x-forwarded-port",
		"x-forwarded-server", "x-forwarded-by",
		"x-real-ip", "x-client-ip", "x-cluster-client-ip", "true-client-ip",
		"cf-connecting-ip", "cf-ray", "cf-ipcountry", "cf-visitor", "cdn-loop",
		"fastly-client-ip", "x-fastly-request-id", "x-fastly-debug",
		"akamai-origin-hop", "akamai-ghost", "akamai-cache-status",
		"x-akamai-session-info", "x-akamai-edgescape",
		"x-azure-ref", "x-azure-fdid", "x-azure-clientip", "x-msedge-ref",
		"x-amzn-trace-id", "x-amzn-via", "x-amz-cf-id", "x-amz-cf-pop",
		"x-amz-cf-pop-tls", "x-amz-cf-xff", "x-sucuri-id",
		"x-cache", "x-cache-hits", "x-served-by", "x-cdn",
		"x-cloud-trace-context", "x-request-id", "x-correlation-id", "x-timer",
		"traceparent", "tracestate",
		"x-b3-traceid", "x-b3-spanid", "x-b3-parentspanid", "x-b3-sampled", "x-b3-flags",
	} {
		stripHeaders[h] = true
	}
}

var stripPrefixes = []string{
	"cf-", "fastly-", "x-fastly-", "akamai-", "x-akamai-", "x-amzn-", "x-amz-",
	"x-azure-", "x-msedge-", "x-vercel-", "x-heroku-", "x-fly-", "flyio-", "x-sucuri-",
}

// StripProxyHeaders deletes proxy, CDN and tracing headers from h and
// returns the removed names.  Every other header is left untouched.
func StripProxyHeaders(h http.Header) []string {
	var removed []string
	for name := range h {
		n := strings.ToLower(name)
		if stripHeaders[n] || hasPrefixAny(n, stripPrefixes) {
			removed = append(removed, name)
		}
	}
	for _, name := range removed {
		delete(h, name)
	}
	return removed
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ─── Apex and pass-through patterns ──────────────────────────────────────────

var twoLevelTLDs = map[string]bool{
	"co.uk": true, "com.au": true, "co.jp": true, "com.br": true,
	"com.mx": true, "com.tr": true, "com.sg": true, "com.hk": true,
}

// Apex returns the registrable root of host: its last two labels, or three
// when the last two form a known two-level public suffix.
func Apex(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	tail2 := strings.Join(labels[len(labels)-2:], ".")
	if twoLevelTLDs[tail2] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return tail2
}

// PassthroughPattern returns the host pattern matching apex and every
// subdomain of it.
func PassthroughPattern(apex string) string {
	return `^(?:.+\.)?` + regexp.QuoteMeta(apex) + `$`
}

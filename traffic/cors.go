package traffic

import (
	"io"
	"net/http"
	"sort"
	"strings"
)

// CORS defaults for synthesized preflight answers.
const (
	DefaultAllowHeaders = "Content-Type"
	PreflightMaxAge     = "3600"
	preflightVary       = "Origin, Access-Control-Request-Method, Access-Control-Request-Headers"
)

var defaultMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

// IsPreflight reports whether req is a cross-origin preflight.  Any OPTIONS
// carrying an Origin counts, with or without Access-Control-Request-Method;
// a bare OPTIONS is answered with the default method set.
func IsPreflight(req *http.Request) bool {
	return strings.EqualFold(req.Method, http.MethodOptions) && req.Header.Get("Origin") != ""
}

// Preflight builds the 200 answer to a preflight request.
func Preflight(req *http.Request) *http.Response {
	origin := req.Header.Get("Origin")
	var methods []string
	if m := req.Header.Get("Access-Control-Request-Method"); m != "" {
		methods = []string{m}
	} else {
		methods = append(methods, defaultMethods...)
		sort.Strings(methods)
	}
	allowHeaders := req.Header.Get("Access-Control-Request-Headers")
	if allowHeaders == "" {
		allowHeaders = DefaultAllowHeaders
	}

	h := make(http.Header)
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", PreflightMaxAge)
	h.Set("Vary", preflightVary)
	if req.Header.Get("Access-Control-Request-Private-Network") == "true" {
		h.Set("Access-Control-Allow-Private-Network", "true")
	}
	h.Set("Content-Length", "0")

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       req,
	}
}

// ApplyCORS adds credentialed CORS headers echoing the request Origin to
// resp.  Requests without Origin are left alone.
func ApplyCORS(req *http.Request, resp *http.Response) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return false
	}
	resp.Header.Set("Access-Control-Allow-Origin", origin)
	resp.Header.Set("Access-Control-Allow-Credentials", "true")
	resp.Header.Set("Vary", addVary(resp.Header.Get("Vary"), "Origin"))
	return true
}

// addVary appends token to a Vary value unless a case-insensitive match is
// already listed.
func addVary(vary, token string) string {
	if strings.TrimSpace(vary) == "" {
		return token
	}
	for _, v := range strings.Split(vary, ",") {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, token) || v == "*" {
			return vary
		}
	}
	return vary + ", " + token
}

// drain discards and closes a replaced response body.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRawPeek))
	_ = resp.Body.Close()
}

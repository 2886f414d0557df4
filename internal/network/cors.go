package network

import (
	"net/http"
	"slices"
	"strings"

	"github.com/youtube/cobalt-sub008/internal/origin"
)

var simpleMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
	http.MethodPost: true,
}

var safelistedContentTypes = map[string]bool{
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
}

// safelisted reports whether a request header never triggers a preflight.
func safelisted(name string, values []string) bool {
	switch strings.ToLower(name) {
	case "accept", "accept-language", "content-language":
		return true
	case "content-type":
		for _, v := range values {
			mt, _, _ := strings.Cut(v, ";")
			if !safelistedContentTypes[strings.ToLower(strings.TrimSpace(mt))] {
				return false
			}
		}
		return true
	}
	return false
}

// preflightHeaders returns the sorted, lower-cased names that need to be
// announced in Access-Control-Request-Headers.
func preflightHeaders(h http.Header) []string {
	var names []string
	for name, values := range h {
		if safelisted(name, values) {
			continue
		}
		names = append(names, strings.ToLower(name))
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// needsPreflight reports whether a cross-origin CORS request must be
// preflighted, along with the header names to announce.
func needsPreflight(method string, h http.Header) (bool, []string) {
	names := preflightHeaders(h)
	return !simpleMethods[method] || len(names) > 0, names
}

func preflightRequest(req Request, names []string) Request {
	h := http.Header{}
	h.Set("Origin", req.Origin.String())
	h.Set("Access-Control-Request-Method", req.Method)
	if len(names) > 0 {
		h.Set("Access-Control-Request-Headers", strings.Join(names, ","))
	}
	return Request{
		Method:    http.MethodOptions,
		URL:       req.URL,
		Header:    h,
		Initiator: req.Initiator,
		Origin:    req.Origin,
	}
}

// checkPreflight validates a preflight response for method and names.
func checkPreflight(resp *Response, from origin.Origin, method string, names []string) *CORSError {
	if !resp.OK() {
		return &CORSError{URL: resp.URL, Reason: "preflight returned " + http.StatusText(resp.StatusCode)}
	}
	if err := checkAllowOrigin(resp, from); err != nil {
		return err
	}
	if !simpleMethods[method] && !listAllows(resp.Header.Get("Access-Control-Allow-Methods"), method, false) {
		return &CORSError{URL: resp.URL, Reason: "method " + method + " not allowed"}
	}
	allowed := resp.Header.Get("Access-Control-Allow-Headers")
	for _, name := range names {
		if !listAllows(allowed, name, true) {
			return &CORSError{URL: resp.URL, Reason: "header " + name + " not allowed"}
		}
	}
	return nil
}

func checkAllowOrigin(resp *Response, from origin.Origin) *CORSError {
	allow := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
	if allow == "*" || allow == from.String() {
		return nil
	}
	if allow == "" {
		return &CORSError{URL: resp.URL, Reason: "missing Access-Control-Allow-Origin"}
	}
	return &CORSError{URL: resp.URL, Reason: "origin " + from.String() + " not allowed"}
}

func listAllows(list, item string, foldCase bool) bool {
	for _, v := range strings.Split(list, ",") {
		v = strings.TrimSpace(v)
		if v == "*" || v == item || (foldCase && strings.EqualFold(v, item)) {
			return true
		}
	}
	return false
}

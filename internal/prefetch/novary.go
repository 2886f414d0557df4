package prefetch

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
)

// NoVarySearch decides which query parameters distinguish two prefetch URLs.
//
// With VaryByDefault set, every parameter matters except NoVaryParams.
// Without it, no parameter matters except VaryParams. VaryOnKeyOrder keeps
// the original parameter order significant.
type NoVarySearch struct {
	VaryByDefault  bool
	NoVaryParams   []string
	VaryParams     []string
	VaryOnKeyOrder bool
}

// IgnoreAll makes the query string irrelevant.
func IgnoreAll() *NoVarySearch {
	return &NoVarySearch{}
}

// IgnoreNone makes every parameter and its position significant.
func IgnoreNone() *NoVarySearch {
	return &NoVarySearch{VaryByDefault: true, VaryOnKeyOrder: true}
}

// Ignore makes the named parameters irrelevant.
func Ignore(params ...string) *NoVarySearch {
	return &NoVarySearch{VaryByDefault: true, NoVaryParams: params, VaryOnKeyOrder: true}
}

// IgnoreExcept ignores every parameter except the named ones.
func IgnoreExcept(params ...string) *NoVarySearch {
	return &NoVarySearch{VaryParams: params}
}

func (n *NoVarySearch) keeps(key string) bool {
	if n.VaryByDefault {
		return !slices.Contains(n.NoVaryParams, key)
	}
	return slices.Contains(n.VaryParams, key)
}

type queryParam struct {
	key string
	raw string
}

// NormalizeURL returns raw with the fragment dropped and the query string
// reduced per nvs. A nil nvs behaves like IgnoreNone.
func NormalizeURL(raw string, nvs *NoVarySearch) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	return normalize(u, nvs), nil
}

func normalize(u *url.URL, nvs *NoVarySearch) string {
	out := *u
	out.Fragment = ""
	out.RawFragment = ""
	if nvs == nil {
		nvs = IgnoreNone()
	}

	var params []queryParam
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		k, _, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		if nvs.keeps(key) {
			params = append(params, queryParam{key: key, raw: part})
		}
	}

	if !nvs.VaryOnKeyOrder {
		sort.SliceStable(params, func(i, j int) bool { return params[i].key < params[j].key })
	}

	raws := make([]string, len(params))
	for i, p := range params {
		raws[i] = p.raw
	}
	out.RawQuery = strings.Join(raws, "&")
	out.ForceQuery = false
	return out.String()
}

// equivalent reports whether two URLs name the same resource under nvs.
func equivalent(a, b *url.URL, nvs *NoVarySearch) bool {
	return normalize(a, nvs) == normalize(b, nvs)
}

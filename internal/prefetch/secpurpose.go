package prefetch

import (
	"net/http"
	"strings"
)

const (
	SecPurposeHeader   = "Sec-Purpose"
	SecPurposePrefetch = "prefetch"
)

// IsPrefetchRequest reports whether the headers mark a prefetch. The first
// list item of Sec-Purpose must be the "prefetch" token; parameters such as
// ";anonymous-client-ip" are allowed.
func IsPrefetchRequest(h http.Header) bool {
	v := h.Get(SecPurposeHeader)
	if v == "" {
		return false
	}
	item, _, _ := strings.Cut(v, ",")
	token, _, _ := strings.Cut(item, ";")
	return strings.EqualFold(strings.TrimSpace(token), SecPurposePrefetch)
}

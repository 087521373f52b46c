package transport

import "strings"

// Headers is a case-insensitive set of application headers.
// Keys are stored in lower case. A nil Headers is a valid empty set.
type Headers struct {
	items map[string]string
}

// NewHeaders returns an empty header set.
func NewHeaders() Headers {
	return Headers{}
}

// HeadersFromMap builds a header set from a plain map.
func HeadersFromMap(m map[string]string) Headers {
	var h Headers
	for k, v := range m {
		h = h.With(k, v)
	}
	return h
}

// CanonicalizeHeaderKey returns the form in which a header key is stored.
func CanonicalizeHeaderKey(key string) string {
	return strings.ToLower(key)
}

// With returns a copy of the headers with key set to value.
func (h Headers) With(key, value string) Headers {
	items := make(map[string]string, len(h.items)+1)
	for k, v := range h.items {
		items[k] = v
	}
	items[CanonicalizeHeaderKey(key)] = value
	return Headers{items: items}
}

// Del returns a copy of the headers without key.
func (h Headers) Del(key string) Headers {
	key = CanonicalizeHeaderKey(key)
	if _, ok := h.items[key]; !ok {
		return h
	}

	items := make(map[string]string, len(h.items))
	for k, v := range h.items {
		if k != key {
			items[k] = v
		}
	}
	return Headers{items: items}
}

// Get returns the value for key and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h.items[CanonicalizeHeaderKey(key)]
	return v, ok
}

// Len returns the number of headers.
func (h Headers) Len() int {
	return len(h.items)
}

// Items returns a copy of the underlying map.
func (h Headers) Items() map[string]string {
	items := make(map[string]string, len(h.items))
	for k, v := range h.items {
		items[k] = v
	}
	return items
}

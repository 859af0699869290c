package merchant

import (
	"fmt"
	"sort"
	"strings"
)

// Caller is a merchant allowed to call protected endpoints.
type Caller struct {
	Key string
	// AllowedOrigins is recorded for operators; requests are not checked against it.
	AllowedOrigins []string
}

// Registry is the static set of known callers. It is built once from
// configuration and only read afterwards, so it needs no locking.
type Registry struct {
	callers map[string]Caller
}

// NewRegistry builds a registry from callers; later duplicates merge their origins.
func NewRegistry(callers ...Caller) *Registry {
	r := &Registry{callers: make(map[string]Caller, len(callers))}
	for _, c := range callers {
		existing, ok := r.callers[c.Key]
		if !ok {
			r.callers[c.Key] = Caller{Key: c.Key, AllowedOrigins: append([]string(nil), c.AllowedOrigins...)}
			continue
		}
		existing.AllowedOrigins = append(existing.AllowedOrigins, c.AllowedOrigins...)
		r.callers[c.Key] = existing
	}
	return r
}

// ParseRegistry reads the MERCHANTS format: "key=origin|origin,key2=origin".
// A key without "=" is registered with no origins.
func ParseRegistry(spec string) (*Registry, error) {
	var callers []Caller
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, origins, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("merchant entry %q has an empty key", entry)
		}
		c := Caller{Key: key}
		for _, o := range strings.Split(origins, "|") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
		callers = append(callers, c)
	}
	return NewRegistry(callers...), nil
}

// Lookup returns the caller registered under key.
func (r *Registry) Lookup(key string) (Caller, bool) {
	if r == nil {
		return Caller{}, false
	}
	c, ok := r.callers[key]
	return c, ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.callers)
}

// Keys lists the registered caller keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.callers))
	for k := range r.callers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

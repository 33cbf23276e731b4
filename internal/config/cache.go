package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled. Methods lists the HTTP methods to cache. KeyStrategy determines
// which parts of the request contribute to the cache key; visitor listings
// are scoped per caller, so the default includes the user.
type CacheConfig struct {
	Enabled      bool          `env:"CACHE_ENABLED" envDefault:"true"`
	Methods      []string      `env:"CACHE_METHODS" envDefault:"GET" envSeparator:","`
	TTL          time.Duration `env:"CACHE_TTL" envDefault:"5s"`
	KeyStrategy  string        `env:"CACHE_KEY_STRATEGY" envDefault:"user_route_query"`
	Prefix       string        `env:"CACHE_PREFIX" envDefault:"cache"`
	MaxBodyBytes int           `env:"CACHE_MAX_BODY_BYTES" envDefault:"1048576"`

	methods map[string]bool
}

func (c *CacheConfig) normalize() {
	c.methods = make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		if m = strings.TrimSpace(strings.ToUpper(m)); m != "" {
			c.methods[m] = true
		}
	}
	if c.TTL <= 0 {
		c.TTL = time.Second
	}
}

// Cacheable reports whether responses to method may be cached.
func (c CacheConfig) Cacheable(method string) bool {
	if c.methods == nil {
		c.normalize()
	}
	return c.methods[strings.ToUpper(method)]
}

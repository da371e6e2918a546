package origin

import (
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/rtguard/pkg/errors"
	"github.com/tokmz/rtguard/pkg/logger"
)

func newTestResolver(opts Options) *Resolver {
	return NewResolver(opts, logger.NewNop())
}

func productionOptions(allow ...string) Options {
	return Options{
		Host:      "chat.example.com",
		Port:      443,
		Mode:      ModeProduction,
		AllowList: allow,
	}
}

func TestParseAllowList(t *testing.T) {
	assert.Nil(t, ParseAllowList(""))
	assert.Equal(t, []string{"*"}, ParseAllowList(" * "))
	assert.Equal(t,
		[]string{"https://a.example.com", "http://localhost:3000"},
		ParseAllowList("https://a.example.com, ,http://localhost:3000,"))
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("Staging")
	assert.True(t, ok)
	assert.Equal(t, ModeStaging, m)

	m, ok = ParseMode("qa")
	assert.False(t, ok)
	assert.Equal(t, ModeProduction, m)
}

func TestDefaultsDevelopment(t *testing.T) {
	r := newTestResolver(Options{Mode: ModeDevelopment})
	origins := r.AllowedOrigins()

	for _, want := range []string{
		"http://localhost:5000",
		"http://127.0.0.1:5000",
		"http://[::1]:5000",
		"https://localhost:5000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
	} {
		assert.Contains(t, origins, want)
	}
	assert.True(t, sort.StringsAreSorted(origins))
	assert.False(t, r.IsWildcard())
}

func TestConfiguredOriginsAlwaysValidate(t *testing.T) {
	configs := []Options{
		{Mode: ModeDevelopment},
		productionOptions("https://app.example.com", "http://localhost:4000"),
		{Host: "10.0.0.5", Port: 8443, Mode: ModeStaging, AllowList: []string{"https://portal.example.org:9443"}},
	}
	for _, opts := range configs {
		r := newTestResolver(opts)
		for _, o := range r.AllowedOrigins() {
			assert.True(t, r.Validate(o), o)
			assert.True(t, r.Validate(o), "repeat "+o)
		}
	}
}

func TestAllowedOriginsDeduplicated(t *testing.T) {
	r := newTestResolver(productionOptions(
		"https://app.example.com",
		"http://app.example.com",
		"https://APP.example.com",
	))
	origins := r.AllowedOrigins()

	seen := make(map[string]bool)
	for _, o := range origins {
		assert.False(t, seen[o], "duplicate "+o)
		seen[o] = true
	}
	assert.True(t, seen["https://app.example.com"])
	assert.True(t, seen["http://app.example.com"])
}

func TestAllowedOriginsReturnsCopy(t *testing.T) {
	r := newTestResolver(productionOptions())
	origins := r.AllowedOrigins()
	require.NotEmpty(t, origins)
	origins[0] = "https://tampered.example.com"
	assert.NotContains(t, r.AllowedOrigins(), "https://tampered.example.com")
}

func TestWildcard(t *testing.T) {
	r := newTestResolver(Options{Mode: ModeStaging, AllowList: []string{"*"}})

	assert.Equal(t, []string{"*"}, r.AllowedOrigins())
	assert.True(t, r.IsWildcard())
	assert.True(t, r.Validate("https://anything.example.net"))
	assert.True(t, r.Validate("http://10.1.2.3:1234"))

	assert.False(t, r.Validate(""))
	assert.False(t, r.Validate("null"))
	assert.False(t, r.Validate("http://"))
}

func TestWildcardInProductionWarns(t *testing.T) {
	r := newTestResolver(productionOptions())
	warnings := r.Reload(productionOptions("*"))
	assert.Contains(t, warnings, "wildcard origin configured in production mode")
	assert.Equal(t, []string{"*"}, r.AllowedOrigins())
}

func TestWildcardMixedIsIgnored(t *testing.T) {
	r := newTestResolver(productionOptions("*", "https://app.example.com"))
	assert.False(t, r.IsWildcard())
	assert.False(t, r.Validate("https://evil.example.com"))
	assert.True(t, r.Validate("https://app.example.com"))
}

func TestOppositeSchemeVariant(t *testing.T) {
	r := newTestResolver(productionOptions("https://app.example.com"))
	assert.True(t, r.Validate("https://app.example.com"))
	assert.True(t, r.Validate("http://app.example.com"))
	assert.False(t, r.Validate("https://app.example.com:9999"))
}

func TestLoopbackDeploymentAliases(t *testing.T) {
	r := newTestResolver(Options{Host: "localhost", Port: 7000, Mode: ModeProduction})
	assert.True(t, r.Validate("http://localhost:7000"))
	assert.True(t, r.Validate("http://127.0.0.1:7000"))
	assert.True(t, r.Validate("http://[::1]:7000"))

	r = newTestResolver(Options{Host: "127.0.0.1", Port: 7000, Mode: ModeProduction})
	assert.Contains(t, r.AllowedOrigins(), "http://localhost:7000")
}

func TestLoopbackAllowListAliases(t *testing.T) {
	r := newTestResolver(productionOptions("http://127.0.0.1:4000"))
	origins := r.AllowedOrigins()
	assert.Contains(t, origins, "http://localhost:4000")
	assert.Contains(t, origins, "https://[::1]:4000")
}

func TestProductionPort443BareHost(t *testing.T) {
	r := newTestResolver(productionOptions())
	assert.Contains(t, r.AllowedOrigins(), "https://chat.example.com")
	assert.NotContains(t, r.AllowedOrigins(), "http://localhost:5173")
}

func TestPatternFallback(t *testing.T) {
	r := newTestResolver(Options{Host: "chat.example.com", Port: 8443, Mode: ModeProduction})

	assert.NotContains(t, r.AllowedOrigins(), "https://chat.example.com:3000")
	assert.True(t, r.Validate("https://chat.example.com:3000"))
	assert.True(t, r.Validate("http://localhost:8080"))
	assert.False(t, r.Validate("https://chat.example.com:9999"))
}

func TestEvilOriginRejected(t *testing.T) {
	configs := []Options{
		{},
		{Mode: ModeDevelopment},
		productionOptions("https://app.example.com"),
		{Host: "example.com", Port: 443, Mode: ModeStaging},
	}
	for _, opts := range configs {
		r := newTestResolver(opts)
		assert.NotContains(t, r.AllowedOrigins(), "https://evil.example.com")

		ok, reason := r.ValidateForConnection("https://evil.example.com", "admin")
		assert.False(t, ok)
		assert.Equal(t, ReasonNotPermitted, reason)
	}
}

func TestValidateForConnectionReasons(t *testing.T) {
	r := newTestResolver(productionOptions("https://app.example.com"))

	tests := []struct {
		origin string
		ok     bool
		reason Reason
	}{
		{"https://app.example.com", true, ReasonPermitted},
		{"", false, ReasonMissing},
		{"   ", false, ReasonMissing},
		{"null", false, ReasonMalformed},
		{"https://", false, ReasonMalformed},
		{"app.example.com", false, ReasonMalformed},
		{"https://app.example.com/path", false, ReasonMalformed},
		{"https://other.example.com", false, ReasonNotPermitted},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			ok, reason := r.ValidateForConnection(tt.origin, "")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestReasonErr(t *testing.T) {
	assert.Nil(t, ReasonPermitted.Err())
	assert.True(t, errors.Is(ReasonMissing.Err(), errors.ErrOriginMissing))
	assert.True(t, errors.Is(ReasonMalformed.Err(), errors.ErrOriginMalformed))
	assert.True(t, errors.Is(ReasonNotPermitted.Err(), errors.ErrOriginNotPermitted))
}

func TestInvalidConfigFallsBack(t *testing.T) {
	r := newTestResolver(Options{})
	warnings := r.Reload(Options{
		Host:      "https://bad/host",
		Port:      -1,
		Mode:      "qa",
		AllowList: []string{"not an origin", "https://ok.example.com"},
	})

	assert.Len(t, warnings, 4)
	assert.True(t, r.Validate("http://localhost:5000"))
	assert.True(t, r.Validate("https://ok.example.com"))
	assert.NotContains(t, r.AllowedOrigins(), "http://localhost:5173")

	warnings = r.Reload(Options{Host: "example.com:8080"})
	assert.Len(t, warnings, 1)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	r := newTestResolver(productionOptions("https://app.example.com"))
	assert.False(t, r.Validate("https://new.example.com"))

	r.Reload(productionOptions("https://new.example.com"))
	assert.True(t, r.Validate("https://new.example.com"))
	assert.False(t, r.Validate("https://app.example.com"))
}

func TestConcurrentValidateDuringReload(t *testing.T) {
	r := newTestResolver(productionOptions("https://app.example.com"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.True(t, r.Validate("https://app.example.com"))
				_ = r.AllowedOrigins()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		r.Reload(productionOptions("https://app.example.com", "https://extra.example.com"))
	}
	wg.Wait()
}

func TestCheckOrigin(t *testing.T) {
	r := newTestResolver(productionOptions("https://app.example.com"))

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.False(t, r.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, r.CheckOrigin(req))
}

package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	"github.com/stretchr/testify/assert"
)

func trustedConfig(t *testing.T) *pkghttp.IPConfig {
	t.Helper()
	cfg, invalid := pkghttp.NewIPConfig([]string{"10.0.0.0/8", "172.16.0.0/12", "2001:db8::/32"})
	assert.Empty(t, invalid)
	return cfg
}

func TestExtractClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, trustedConfig(t)))
}

func TestExtractClientIP_TrustedProxy_UsesFirstValidForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "garbage, 198.51.100.4, 10.0.0.1")

	assert.Equal(t, "198.51.100.4", pkghttp.ExtractClientIP(req, trustedConfig(t)))
}

func TestExtractClientIP_TrustedProxy_FallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "172.16.3.3:1234"
	req.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "198.51.100.9", pkghttp.ExtractClientIP(req, trustedConfig(t)))
}

func TestExtractClientIP_IPv6_TrustedProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	req.Header.Set("X-Forwarded-For", "2001:db8:abcd::7")

	assert.Equal(t, "2001:db8:abcd::7", pkghttp.ExtractClientIP(req, trustedConfig(t)))
}

func TestExtractClientIP_NilConfig_DefaultsSecurely(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	assert.Equal(t, "10.0.0.5", pkghttp.ExtractClientIP(req, nil))
}

func TestNewIPConfig_ReportsInvalidCIDRs(t *testing.T) {
	cfg, invalid := pkghttp.NewIPConfig([]string{"not-a-cidr", "10.0.0.0/8"})
	assert.Equal(t, []string{"not-a-cidr"}, invalid)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:80"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_RemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.20"
	assert.Equal(t, "198.51.100.20", pkghttp.ExtractClientIP(req, nil))
}

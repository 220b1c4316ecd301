package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

const unknownDevice = "Unknown device"

// GenerateDeviceID derives a stable device fingerprint from the user agent and a
// network prefix of the client address, so address churn inside one network keeps
// the same id. The id is the first 32 hex characters of a SHA-256 digest.
func GenerateDeviceID(userAgent, ipAddress string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ipPrefix(ipAddress)))
	return hex.EncodeToString(sum[:])[:32]
}

// ipPrefix keeps the first three IPv4 octets or the first four IPv6 hextets.
// Unparseable input is used as is.
func ipPrefix(ipAddress string) string {
	ipAddress = strings.TrimSpace(ipAddress)
	if host, _, err := net.SplitHostPort(ipAddress); err == nil {
		ipAddress = host
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return ipAddress
	}

	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}

	v6 := ip.To16()
	return fmt.Sprintf("%x:%x:%x:%x",
		uint16(v6[0])<<8|uint16(v6[1]),
		uint16(v6[2])<<8|uint16(v6[3]),
		uint16(v6[4])<<8|uint16(v6[5]),
		uint16(v6[6])<<8|uint16(v6[7]),
	)
}

// Order matters: Edge and Opera UAs also contain "Chrome", and Chrome UAs contain "Safari".
var browserMarkers = []struct{ marker, name string }{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Opera", "Opera"},
	{"Firefox/", "Firefox"},
	{"FxiOS/", "Firefox"},
	{"CriOS/", "Chrome"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
	{"curl/", "curl"},
	{"PostmanRuntime/", "Postman"},
}

var osMarkers = []struct{ marker, name string }{
	{"iPhone", "iOS"},
	{"iPad", "iPadOS"},
	{"Android", "Android"},
	{"Windows", "Windows"},
	{"Mac OS X", "macOS"},
	{"Macintosh", "macOS"},
	{"CrOS", "ChromeOS"},
	{"Linux", "Linux"},
}

// ExtractDeviceName returns a display name such as "Chrome on Windows".
func ExtractDeviceName(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return unknownDevice
	}

	browser := matchMarker(userAgent, browserMarkers)
	os := matchMarker(userAgent, osMarkers)

	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return "Browser on " + os
	default:
		return unknownDevice
	}
}

func matchMarker(userAgent string, markers []struct{ marker, name string }) string {
	for _, m := range markers {
		if strings.Contains(userAgent, m.marker) {
			return m.name
		}
	}
	return ""
}

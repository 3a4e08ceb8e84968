package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
)

// maxHeaderComponent bounds each header-derived fingerprint component so a
// hostile client cannot feed megabytes of header into the hash or the logs.
const maxHeaderComponent = 256

// Fingerprint derives the server-side client fingerprint from network and
// header signals. It is used as a rate-limit identifier component and as part
// of the admin session key; it is never returned to clients.
func Fingerprint(c *gin.Context) string {
	ip := c.ClientIP()
	ua := uaFamily(c.GetHeader("User-Agent"))
	accept := boundHeader(c.GetHeader("Accept")) + "," +
		boundHeader(c.GetHeader("Accept-Language")) + "," +
		boundHeader(c.GetHeader("Accept-Encoding"))

	sum := sha256.Sum256([]byte(ip + "\x1f" + ua + "\x1f" + accept))
	return hex.EncodeToString(sum[:16])
}

// ClientIdentifier builds the composite rate-limit identifier "ip|fp".
func ClientIdentifier(c *gin.Context) string {
	return c.ClientIP() + "|" + Fingerprint(c)
}

// uaFamily reduces a User-Agent header to a coarse browser/tool family so a
// fingerprint survives patch-version bumps.
func uaFamily(ua string) string {
	ua = strings.ToLower(boundHeader(ua))
	for _, family := range []string{"firefox", "edg", "chrome", "safari", "curl", "wget", "python", "go-http-client"} {
		if strings.Contains(ua, family) {
			return family
		}
	}
	if ua == "" {
		return "unknown"
	}
	return "other"
}

// boundHeader truncates and strips control characters from a header value.
func boundHeader(v string) string {
	if len(v) > maxHeaderComponent {
		v = v[:maxHeaderComponent]
	}
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= 0x20 && r != 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const countryKey = "country"

// headers set by the CDN or edge in front of the API, in order of trust
var countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Country-Code"}

// Geo stores the viewer's ISO country code, falling back to fallback.
// "XX" and "T1" are Cloudflare's unknown and Tor markers.
func Geo(fallback string) gin.HandlerFunc {
	fallback = strings.ToUpper(fallback)
	return func(c *gin.Context) {
		country := fallback
		for _, h := range countryHeaders {
			v := strings.ToUpper(strings.TrimSpace(c.GetHeader(h)))
			if len(v) == 2 && v != "XX" && v != "T1" {
				country = v
				break
			}
		}
		c.Set(countryKey, country)
		c.Next()
	}
}

func Country(c *gin.Context) string {
	return c.GetString(countryKey)
}

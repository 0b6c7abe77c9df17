// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"math/rand"
	"net/http"
)

// userAgents are rotated across requests to venue sites.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// RandomUserAgent returns one of the browser User-Agent strings.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// SetBrowserHeaders sets browser-like Accept headers and a User-Agent on
// req. An empty userAgent picks a random one.
func SetBrowserHeaders(req *http.Request, userAgent string) {
	if userAgent == "" {
		userAgent = RandomUserAgent()
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
}

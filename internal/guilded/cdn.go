package guilded

import "regexp"

// Guilded migrated its media from the S3 bucket to its own CDN, but the
// API still returns the old bucket URLs for anything uploaded before the
// move.  The bucket is no longer publicly readable, the CDN is.
var s3URLRe = regexp.MustCompile(`https://s3-us-west-2\.amazonaws\.com/www\.guilded\.gg/`)

const cdnBase = "https://cdn.gldcdn.com/"

// rewriteCDN replaces dead S3 bucket URLs with their CDN equivalents in
// the raw response body.  Operating on the wire bytes keeps the rewrite
// uniform across every URL-bearing field of every endpoint.
func rewriteCDN(body []byte) []byte {
	return s3URLRe.ReplaceAll(body, []byte(cdnBase))
}

// RewriteCDNURL rewrites a single URL string.
func RewriteCDNURL(s string) string {
	return s3URLRe.ReplaceAllString(s, cdnBase)
}

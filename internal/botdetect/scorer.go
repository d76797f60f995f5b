// Package botdetect scores textual evidence of bot protection and
// anti-automation measures. Scoring is pure: identical inputs always yield
// identical verdicts, and absence of evidence is a negative verdict, never
// an error.
package botdetect

import (
	"regexp"
	"strings"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Version identifies the scoring heuristic revision recorded on results.
const Version = "1.0.0"

// Indicator substrings per protection family. Matches append a tagged
// indicator of the form {family}_{substring_with_spaces_as_underscores}.
var (
	cloudflareIndicators = []string{
		"cloudflare",
		"cf-ray",
		"cf-mitigated",
		"checking your browser",
		"ddos protection by cloudflare",
		"attention required",
		"ray id:",
	}

	ddosGuardIndicators = []string{
		"ddos-guard",
		"checking your browser before accessing",
		"ddosguard.net",
		"under ddos attack",
	}

	recaptchaIndicators = []string{
		"recaptcha",
		"i'm not a robot",
		"google.com/recaptcha",
		"verify you are human",
	}

	rateLimitIndicators = []string{
		"rate limit",
		"too many requests",
		"requests per minute",
		"try again later",
		"temporary block",
	}

	genericIndicators = []string{
		"bot protection",
		"automated traffic",
		"suspicious activity",
		"access denied",
		"forbidden",
		"verification required",
		"human verification",
	}

	// Phrases scanned in error text, tagged error_message_{phrase}.
	errorPhrases = []string{
		"access denied",
		"forbidden",
		"blocked",
		"suspicious activity",
		"automated traffic",
		"bot detected",
		"rate limit",
		"too many requests",
		"verification required",
		"challenge",
	}

	metaRefreshRe = regexp.MustCompile(`<meta[^>]*http-equiv=["']?refresh["']?`)
)

// detection threshold on the final confidence
const detectThreshold = 0.3

// Score maps HTML text and optional error text to a bot-protection verdict.
// Extra indicators (structural evidence gathered outside the two texts, such
// as valid_ssl_but_blocked_access) participate in scoring like any matched
// substring.
func Score(htmlText, errorText string, extra ...string) analysis.BotProtection {
	indicators := make([]string, 0, 8)
	indicators = append(indicators, extra...)

	if htmlText != "" {
		indicators = append(indicators, scanHTML(htmlText)...)
	}
	if errorText != "" {
		indicators = append(indicators, scanError(errorText)...)
	}

	indicators = dedupe(indicators)
	if len(indicators) == 0 {
		return analysis.BotProtection{Indicators: []string{}}
	}

	category, confidence := classify(indicators)
	return analysis.BotProtection{
		Detected:   confidence > detectThreshold,
		Category:   category,
		Indicators: indicators,
		Confidence: confidence,
	}
}

func scanHTML(htmlText string) []string {
	lower := strings.ToLower(htmlText)
	var found []string

	families := []struct {
		tag  string
		subs []string
	}{
		{"cloudflare", cloudflareIndicators},
		{"ddos_guard", ddosGuardIndicators},
		{"recaptcha", recaptchaIndicators},
		{"rate_limit", rateLimitIndicators},
		{"generic", genericIndicators},
	}
	for _, family := range families {
		for _, sub := range family.subs {
			if strings.Contains(lower, sub) {
				found = append(found, family.tag+"_"+strings.ReplaceAll(sub, " ", "_"))
			}
		}
	}

	// Structural signals independent of the family lists.
	if strings.Contains(lower, "challenge") &&
		(strings.Contains(lower, "javascript") || strings.Contains(lower, "js")) {
		found = append(found, "javascript_challenge")
	}
	if metaRefreshRe.MatchString(lower) {
		found = append(found, "meta_refresh_redirect")
	}
	return found
}

func scanError(errorText string) []string {
	lower := strings.ToLower(errorText)
	var found []string

	// HTTP statuses commonly used for bot blocking.
	if strings.Contains(errorText, "403") || strings.Contains(lower, "forbidden") {
		found = append(found, "http_403_forbidden")
	}
	if strings.Contains(errorText, "429") || strings.Contains(lower, "too many requests") {
		found = append(found, "http_429_rate_limit")
	}
	if strings.Contains(errorText, "503") || strings.Contains(lower, "service unavailable") {
		found = append(found, "http_503_service_unavailable")
	}

	for _, phrase := range errorPhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, "error_message_"+strings.ReplaceAll(phrase, " ", "_"))
		}
	}
	return found
}

// classify resolves the protection category and its confidence. Families are
// checked in priority order; the first scoring family wins and applies its
// confidence floor.
func classify(indicators []string) (string, float64) {
	var cloudflare, ddosGuard, recaptcha, rateLimit, generic int
	for _, ind := range indicators {
		if strings.Contains(ind, "cloudflare") {
			cloudflare++
		}
		if strings.Contains(ind, "ddos_guard") {
			ddosGuard++
		}
		if strings.Contains(ind, "recaptcha") {
			recaptcha++
		}
		if strings.Contains(ind, "rate_limit") || strings.Contains(ind, "429") {
			rateLimit++
		}
		if strings.Contains(ind, "generic") || strings.Contains(ind, "403") || strings.Contains(ind, "blocked") {
			generic++
		}
	}

	maxScore := max(cloudflare, max(ddosGuard, max(recaptcha, max(rateLimit, generic))))
	confidence := float64(maxScore)*0.4 + float64(len(indicators))*0.1
	if confidence > 1.0 {
		confidence = 1.0
	}

	switch {
	case cloudflare > 0:
		return "cloudflare", floor(confidence, 0.7)
	case ddosGuard > 0:
		return "ddos_guard", floor(confidence, 0.7)
	case recaptcha > 0:
		return "recaptcha", floor(confidence, 0.6)
	case rateLimit > 0:
		return "rate_limit", floor(confidence, 0.8)
	case generic > 0:
		return "unknown", floor(confidence, 0.4)
	default:
		return "", confidence
	}
}

func floor(confidence, lowest float64) float64 {
	if confidence < lowest {
		return lowest
	}
	return confidence
}

// dedupe removes repeated indicators, preserving first-seen order so verdicts
// stay deterministic.
func dedupe(indicators []string) []string {
	seen := make(map[string]struct{}, len(indicators))
	out := indicators[:0]
	for _, ind := range indicators {
		if _, ok := seen[ind]; ok {
			continue
		}
		seen[ind] = struct{}{}
		out = append(out, ind)
	}
	return out
}

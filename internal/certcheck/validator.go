// Package certcheck validates the TLS posture of a URL. The handshake itself
// is delegated to a CertFetcher collaborator; this package owns scheme
// short-circuiting, expiry parsing, and failure classification.
package certcheck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Version identifies the validator revision recorded on results.
const Version = "1.0.0"

// CertInfo carries the raw certificate fields produced by a CertFetcher.
// NotAfter stays textual so the validator owns both accepted formats.
type CertInfo struct {
	NotAfter           string
	IssuerOrganization string
	IssuerCommonName   string
	SubjectCommonName  string
}

// CertFetcher retrieves the peer certificate for a host and port.
type CertFetcher interface {
	FetchCertificate(ctx context.Context, host string, port int) (CertInfo, error)
}

// Validator maps a URL to a certificate verdict.
type Validator struct {
	fetcher CertFetcher
	clock   analysis.Clock
	logger  *zap.Logger
}

// New builds a Validator around the given collaborator.
func New(fetcher CertFetcher, clock analysis.Clock, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{fetcher: fetcher, clock: clock, logger: logger}
}

// notAfter formats: with a trailing " GMT" the timestamp is parsed as UTC;
// otherwise the timezone abbreviation must be part of the string.
const (
	notAfterLayoutBare = "Jan _2 15:04:05 2006"
	notAfterLayoutZone = "Jan _2 15:04:05 2006 MST"
)

// Validate inspects the certificate for rawURL. It never returns a Go error:
// every failure mode is folded into the verdict, and exactly one of
// Valid=true or a non-empty Error is set.
func (v *Validator) Validate(ctx context.Context, rawURL string) analysis.Certificate {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return analysis.Certificate{HasTLS: false, Valid: false, Error: "Not using HTTPS"}
	}

	host := u.Hostname()
	if host == "" {
		return analysis.Certificate{HasTLS: false, Valid: false, Error: "Invalid hostname"}
	}
	port := 443
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return analysis.Certificate{HasTLS: false, Valid: false, Error: "Invalid hostname"}
		}
		port = parsed
	}

	info, err := v.fetcher.FetchCertificate(ctx, host, port)
	if err != nil {
		return analysis.Certificate{HasTLS: true, Valid: false, Error: classifyFailure(err)}
	}

	cert := analysis.Certificate{
		HasTLS: true,
		Valid:  true,
		Issuer: issuerName(info),
	}
	if info.NotAfter != "" {
		expires, parseErr := parseNotAfter(info.NotAfter)
		if parseErr != nil {
			v.logger.Warn("certificate date parse failed",
				zap.String("hostname", host),
				zap.String("not_after", info.NotAfter),
				zap.Error(parseErr),
			)
		} else {
			days := daysUntil(v.clock.Now(), expires)
			cert.DaysUntilExpiry = &days
		}
	}
	return cert
}

// parseNotAfter accepts the two textual forms found on certificates,
// e.g. "Jan  1 00:00:00 2025 GMT".
func parseNotAfter(s string) (time.Time, error) {
	if strings.HasSuffix(s, " GMT") {
		t, err := time.ParseInLocation(notAfterLayoutBare, strings.TrimSuffix(s, " GMT"), time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse not-after %q: %w", s, err)
		}
		return t, nil
	}
	t, err := time.Parse(notAfterLayoutZone, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse not-after %q: %w", s, err)
	}
	return t, nil
}

// daysUntil truncates to whole calendar days, flooring toward negative
// infinity so an expiry later today still counts as zero days.
func daysUntil(now, expires time.Time) int {
	return int(math.Floor(expires.Sub(now).Hours() / 24))
}

func issuerName(info CertInfo) string {
	if info.IssuerOrganization != "" {
		return info.IssuerOrganization
	}
	if info.IssuerCommonName != "" {
		return info.IssuerCommonName
	}
	return "Unknown"
}

// classifyFailure maps connection-level failures into the three disjoint
// error categories: certificate errors, timeouts, and everything else.
func classifyFailure(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Connection timeout"
	}
	if isCertificateError(err) {
		return fmt.Sprintf("SSL Error: %v", err)
	}
	return fmt.Sprintf("Certificate check failed: %v", err)
}

// StatusString renders a human-readable certificate state.
func StatusString(cert analysis.Certificate) string {
	if !cert.HasTLS {
		return "No SSL/HTTPS"
	}
	if !cert.Valid {
		return fmt.Sprintf("Invalid: %s", cert.Error)
	}
	if cert.DaysUntilExpiry != nil {
		days := *cert.DaysUntilExpiry
		switch {
		case days < 0:
			return fmt.Sprintf("Expired %d days ago", -days)
		case days <= 30:
			return fmt.Sprintf("Expires in %d days", days)
		}
	}
	return "Valid"
}

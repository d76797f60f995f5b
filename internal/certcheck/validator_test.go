package certcheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	info CertInfo
	err  error
}

func (f fakeFetcher) FetchCertificate(context.Context, string, int) (CertInfo, error) {
	return f.info, f.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newValidator(f CertFetcher, now time.Time) *Validator {
	return New(f, fakeClock{now: now}, zap.NewNop())
}

func TestValidateNonHTTPSShortCircuits(t *testing.T) {
	t.Parallel()

	called := false
	v := New(fetcherFunc(func(context.Context, string, int) (CertInfo, error) {
		called = true
		return CertInfo{}, nil
	}), fakeClock{now: time.Now()}, zap.NewNop())

	cert := v.Validate(context.Background(), "http://example.com")
	require.False(t, cert.HasTLS)
	require.False(t, cert.Valid)
	require.Equal(t, "Not using HTTPS", cert.Error)
	require.Nil(t, cert.DaysUntilExpiry)
	require.False(t, called, "non-HTTPS URLs must not trigger a network call")
}

type fetcherFunc func(ctx context.Context, host string, port int) (CertInfo, error)

func (f fetcherFunc) FetchCertificate(ctx context.Context, host string, port int) (CertInfo, error) {
	return f(ctx, host, port)
}

func TestValidateInvalidHostname(t *testing.T) {
	t.Parallel()

	v := newValidator(fakeFetcher{}, time.Now())
	cert := v.Validate(context.Background(), "https://")
	require.False(t, cert.HasTLS)
	require.Equal(t, "Invalid hostname", cert.Error)
}

func TestValidateParsesGMTNotAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	v := newValidator(fakeFetcher{info: CertInfo{
		NotAfter:           "Mar  1 00:00:00 2026 GMT",
		IssuerOrganization: "Let's Encrypt",
	}}, now)

	cert := v.Validate(context.Background(), "https://example.com")
	require.True(t, cert.HasTLS)
	require.True(t, cert.Valid)
	require.Empty(t, cert.Error)
	require.Equal(t, "Let's Encrypt", cert.Issuer)
	require.NotNil(t, cert.DaysUntilExpiry)
	// Jan 1 12:00 UTC to Mar 1 00:00 UTC is 58.5 days; calendar truncation gives 58.
	require.Equal(t, 58, *cert.DaysUntilExpiry)
}

func TestValidateParsesZoneNotAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	v := newValidator(fakeFetcher{info: CertInfo{
		NotAfter:         "Jan  3 00:00:00 2026 UTC",
		IssuerCommonName: "Test CA",
	}}, now)

	cert := v.Validate(context.Background(), "https://example.com:8443")
	require.True(t, cert.Valid)
	require.Equal(t, "Test CA", cert.Issuer)
	require.NotNil(t, cert.DaysUntilExpiry)
	require.Equal(t, 2, *cert.DaysUntilExpiry)
}

func TestValidateExpiredCertificateNegativeDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.June, 15, 6, 0, 0, 0, time.UTC)
	v := newValidator(fakeFetcher{info: CertInfo{NotAfter: "Jun 10 00:00:00 2026 GMT"}}, now)

	cert := v.Validate(context.Background(), "https://example.com")
	require.True(t, cert.Valid)
	require.NotNil(t, cert.DaysUntilExpiry)
	// 5.25 days in the past floors to -6, matching calendar-day truncation.
	require.Equal(t, -6, *cert.DaysUntilExpiry)
}

func TestValidateUnparseableDateKeepsValidity(t *testing.T) {
	t.Parallel()

	v := newValidator(fakeFetcher{info: CertInfo{
		NotAfter:           "not a date",
		IssuerOrganization: "Org",
	}}, time.Now())

	cert := v.Validate(context.Background(), "https://example.com")
	require.True(t, cert.Valid)
	require.Nil(t, cert.DaysUntilExpiry)
}

func TestValidateIssuerFallbacks(t *testing.T) {
	t.Parallel()

	v := newValidator(fakeFetcher{info: CertInfo{}}, time.Now())
	cert := v.Validate(context.Background(), "https://example.com")
	require.Equal(t, "Unknown", cert.Issuer)
}

func TestValidateFailureClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: timeoutErr{}, want: "Connection timeout"},
		{name: "other", err: errors.New("connection refused"), want: "Certificate check failed: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(fakeFetcher{err: tt.err}, time.Now())
			cert := v.Validate(context.Background(), "https://example.com")
			require.True(t, cert.HasTLS)
			require.False(t, cert.Valid)
			require.Equal(t, tt.want, cert.Error)
			require.Nil(t, cert.DaysUntilExpiry)
		})
	}
}

func TestValidateExactlyOneOfValidOrError(t *testing.T) {
	t.Parallel()

	ok := newValidator(fakeFetcher{info: CertInfo{NotAfter: "Jan  1 00:00:00 2030 GMT"}}, time.Now())
	cert := ok.Validate(context.Background(), "https://example.com")
	require.True(t, cert.Valid)
	require.Empty(t, cert.Error)

	bad := newValidator(fakeFetcher{err: errors.New("boom")}, time.Now())
	cert = bad.Validate(context.Background(), "https://example.com")
	require.False(t, cert.Valid)
	require.NotEmpty(t, cert.Error)
}

func certFixture(hasTLS, valid bool, days *int, errText string) analysis.Certificate {
	return analysis.Certificate{HasTLS: hasTLS, Valid: valid, DaysUntilExpiry: days, Error: errText}
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	days := func(n int) *int { return &n }

	require.Equal(t, "No SSL/HTTPS", StatusString(certFixture(false, false, nil, "Not using HTTPS")))
	require.Equal(t, "Invalid: SSL Error: x", StatusString(certFixture(true, false, nil, "SSL Error: x")))
	require.Equal(t, "Expired 3 days ago", StatusString(certFixture(true, true, days(-3), "")))
	require.Equal(t, "Expires in 10 days", StatusString(certFixture(true, true, days(10), "")))
	require.Equal(t, "Valid", StatusString(certFixture(true, true, days(200), "")))
}

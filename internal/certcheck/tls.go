package certcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

// TLSFetcher is the production CertFetcher: it performs a verified TLS
// handshake and extracts the leaf certificate fields.
type TLSFetcher struct {
	dialer *net.Dialer
}

// NewTLSFetcher builds a TLSFetcher with the given connect timeout.
func NewTLSFetcher(timeout time.Duration) *TLSFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TLSFetcher{dialer: &net.Dialer{Timeout: timeout}}
}

// FetchCertificate dials host:port, completes the handshake, and returns the
// leaf certificate's raw fields.
func (f *TLSFetcher) FetchCertificate(ctx context.Context, host string, port int) (CertInfo, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := tls.DialWithDialer(f.dialerWithContext(ctx), "tcp", addr, &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return CertInfo{}, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return CertInfo{}, fmt.Errorf("no peer certificate presented by %s", addr)
	}
	return fromX509(certs[0]), nil
}

func (f *TLSFetcher) dialerWithContext(ctx context.Context) *net.Dialer {
	d := *f.dialer
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	return &d
}

// fromX509 renders the leaf certificate in the textual form the validator
// parses, matching the openssl-style "Jan  1 00:00:00 2025 GMT" notation.
func fromX509(cert *x509.Certificate) CertInfo {
	info := CertInfo{
		NotAfter:          cert.NotAfter.UTC().Format(notAfterLayoutBare) + " GMT",
		SubjectCommonName: cert.Subject.CommonName,
		IssuerCommonName:  cert.Issuer.CommonName,
	}
	if len(cert.Issuer.Organization) > 0 {
		info.IssuerOrganization = cert.Issuer.Organization[0]
	}
	return info
}

// isCertificateError reports whether the handshake failed because of the
// certificate itself rather than the transport.
func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr),
		errors.As(err, &recordHeader):
		return true
	}
	return false
}

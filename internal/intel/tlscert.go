package intel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"
	"time"

	"siteintel/pkg/types"
)

// TLSGroup describes the target's certificate posture.
type TLSGroup struct {
	HasTLS           bool   `json:"has_tls"`
	Valid            bool   `json:"valid"`
	SelfSigned       bool   `json:"self_signed"`
	HostnameMismatch bool   `json:"hostname_mismatch"`
	DaysToExpiry     int    `json:"days_to_expiry"`
	Issuer           string `json:"issuer"`
}

// CertInfo is the leaf certificate plus its verified chain pool, as
// obtained from a raw TLS handshake that skips verification so broken
// certs can still be inspected.
type CertInfo struct {
	Leaf          *x509.Certificate
	Intermediates []*x509.Certificate
}

func (c *Collector) collectTLS(ctx context.Context, in Input, rec *recorder) *TLSGroup {
	if in.Target == nil {
		return nil
	}
	host := in.Target.Hostname()
	if host == "" {
		return nil
	}

	group := &TLSGroup{}
	info, err := c.dialTLS(ctx, net.JoinHostPort(host, "443"))
	if err != nil || info == nil || info.Leaf == nil {
		// No TLS endpoint at all is itself a signal.
		rec.add("tls", "has_tls", "false", types.SeverityCritical)
		return group
	}
	group.HasTLS = true
	leaf := info.Leaf

	group.SelfSigned = leaf.Issuer.String() == leaf.Subject.String()
	group.Issuer = leaf.Issuer.CommonName
	group.DaysToExpiry = int(time.Until(leaf.NotAfter).Hours() / 24)
	group.HostnameMismatch = leaf.VerifyHostname(host) != nil

	pool := x509.NewCertPool()
	for _, cert := range info.Intermediates {
		pool.AddCert(cert)
	}
	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Intermediates: pool,
	})
	group.Valid = verifyErr == nil && group.DaysToExpiry > 0

	rec.add("tls", "has_tls", "true", types.SeverityInfo)
	rec.add("tls", "valid", strconv.FormatBool(group.Valid), boolSeverity(!group.Valid, types.SeverityCritical))
	rec.add("tls", "self_signed", strconv.FormatBool(group.SelfSigned), boolSeverity(group.SelfSigned, types.SeverityCritical))
	rec.add("tls", "hostname_mismatch", strconv.FormatBool(group.HostnameMismatch), boolSeverity(group.HostnameMismatch, types.SeverityCritical))
	rec.add("tls", "days_to_expiry", strconv.Itoa(group.DaysToExpiry), boolSeverity(group.DaysToExpiry < 14, types.SeverityWarning))

	return group
}

func (c *Collector) fetchCert(ctx context.Context, addr string) (*CertInfo, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config: &tls.Config{
			// Verification happens manually afterwards so invalid
			// chains can still be inspected.
			InsecureSkipVerify: true,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, net.ErrClosed
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, net.ErrClosed
	}
	return &CertInfo{Leaf: certs[0], Intermediates: certs[1:]}, nil
}

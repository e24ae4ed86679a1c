package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEManager obtains and renews the API certificate from Let's Encrypt
type ACMEManager struct {
	manager *autocert.Manager
	cache   autocert.DirCache
	domains []string
}

// NewACMEManager creates a manager for domains, caching certificates in
// cacheDir.
func NewACMEManager(email string, domains []string, cacheDir string) *ACMEManager {
	cache := autocert.DirCache(cacheDir)
	return &ACMEManager{
		manager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      email,
			HostPolicy: autocert.HostWhitelist(domains...),
			Cache:      cache,
		},
		cache:   cache,
		domains: domains,
	}
}

// Domains returns the configured domains
func (a *ACMEManager) Domains() []string {
	return a.domains
}

// TLSConfig returns the server config fetching certificates on demand
func (a *ACMEManager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: a.manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
	}
}

// HTTPHandler answers HTTP-01 challenges and hands other requests to
// fallback; a nil fallback redirects them to HTTPS.
func (a *ACMEManager) HTTPHandler(fallback http.Handler) http.Handler {
	return a.manager.HTTPHandler(fallback)
}

// CachedCertificates reads the cached certificates without contacting
// Let's Encrypt. Domains without a usable cache entry are left out.
func (a *ACMEManager) CachedCertificates(ctx context.Context) []*CertificateInfo {
	var results []*CertificateInfo

	for _, domain := range a.domains {
		data, err := a.cache.Get(ctx, domain)
		if err != nil {
			continue
		}

		// cache entries hold the key and the chain in one PEM file
		cert, err := tls.X509KeyPair(data, data)
		if err != nil || len(cert.Certificate) == 0 {
			continue
		}
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			continue
		}
		results = append(results, describe(leaf))
	}

	return results
}

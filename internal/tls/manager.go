package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"enquiry-service/internal/config"
)

var ErrNoCertificate = errors.New("no TLS certificate configured")

// Manager selects the server certificate: configured files first, then
// Let's Encrypt for SERVER_DOMAIN, then a self-signed certificate outside
// production.
type Manager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager
	logger     *zap.Logger

	mu   sync.Mutex
	cert *tls.Certificate
}

func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		server:     cfg.Server,
		production: cfg.IsProduction(),
		logger:     logger,
	}

	if cfg.Server.EnableTLS && cfg.Server.Domain != "" && cfg.Server.CertFile == "" {
		if err := os.MkdirAll(cfg.Server.AutoCertDir, 0o700); err != nil {
			logger.Warn("Could not create autocert directory", zap.Error(err))
		} else {
			m.autoCert = &autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
				Cache:      autocert.DirCache(cfg.Server.AutoCertDir),
				Email:      cfg.Server.AutoCertEmail,
			}
			logger.Info("AutoCert configured",
				zap.String("domain", cfg.Server.Domain),
				zap.String("cache_dir", cfg.Server.AutoCertDir))
		}
	}

	return m
}

func (m *Manager) Enabled() bool {
	return m.server.EnableTLS
}

// AutoCert reports whether certificates come from Let's Encrypt
func (m *Manager) AutoCert() bool {
	return m.autoCert != nil
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		return m.autoCert.GetCertificate(hello)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cert != nil {
		return m.cert, nil
	}

	switch {
	case m.server.CertFile != "" && m.server.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		m.cert = &cert
	case !m.production:
		hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := DevCertificate(m.server.AutoCertDir, hosts)
		if err != nil {
			return nil, err
		}
		m.logger.Warn("Serving a self-signed development certificate", zap.Strings("hosts", hosts))
		m.cert = &cert
	default:
		return nil, ErrNoCertificate
	}
	return m.cert, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler answers ACME http-01 challenges and hands everything else
// to fallback
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}

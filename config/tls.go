package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadTLSConfig builds a *tls.Config from the PEM paths in cfg. If all
// paths are empty it returns (nil, nil) and the RPC server stays on
// plain HTTP. A CA cert turns on mandatory client certificates.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || (cfg.CACert == "" && cfg.NodeCert == "" && cfg.NodeKey == "") {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.NodeCert, cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if cfg.CACert != "" {
		caPEM, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		out.ClientCAs = caPool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

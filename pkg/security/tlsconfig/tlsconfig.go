// Package tlsconfig builds TLS configurations for the management API shared
// by control planes, agents and minionctl.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ReloadInterval bounds how long a loaded key pair is reused before it is
// read from disk again.
const ReloadInterval = 10 * time.Second

var ErrMissingKeyPair = errors.New("tlsconfig: cert and key are required")

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

// Server returns a server tls.Config, or nil when TLS is disabled. The key
// pair is reloaded lazily on handshakes so rotated files are picked up
// without a restart. A CA file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrMissingKeyPair }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if _, err := kp.load(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.load() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client tls.Config, or nil when TLS is disabled. A client
// certificate is only presented when both CertFile and KeyFile are set.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
        if _, err := kp.load(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.load() }
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tlsconfig: no certificates in %s", path) }
    return pool, nil
}

type keyPair struct {
    cert, key string

    mu       sync.Mutex
    cached   *tls.Certificate
    loadedAt time.Time
}

func (k *keyPair) load() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loadedAt) < ReloadInterval { return k.cached, nil }
    c, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        // keep serving the previous pair while files are mid-rotation
        if k.cached != nil { return k.cached, nil }
        return nil, err
    }
    k.cached = &c
    k.loadedAt = time.Now()
    return k.cached, nil
}

//go:build integration

package integration

import (
    "context"
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/json"
    "encoding/pem"
    "errors"
    "io"
    "log"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "strconv"
    "testing"
    "time"

    "github.com/amirimatin/go-minions/pkg/cluster"
    "github.com/amirimatin/go-minions/pkg/transport"
)

var errNotYet = errors.New("not yet")

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var err error
    for time.Now().Before(deadline) {
        if err = fn(); err == nil { return }
        time.Sleep(100 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", timeout, err)
}

// freeAddr returns a loopback address with a port that was free a moment ago.
func freeAddr(t *testing.T) string {
    t.Helper()
    l, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()
    return l.Addr().String()
}

func portOf(t *testing.T, addr string) int {
    t.Helper()
    _, ps, err := net.SplitHostPort(addr)
    if err != nil { t.Fatalf("split %q: %v", addr, err) }
    p, _ := strconv.Atoi(ps)
    return p
}

func fetchStatus(ctx context.Context, cli transport.RPCClient, addr string) (cluster.Status, error) {
    var s cluster.Status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    err = json.Unmarshal(b, &s)
    return s, err
}

// writeCert writes a self-signed certificate for 127.0.0.1 usable as CA,
// server and client certificate.
func writeCert(t *testing.T) (certPath, keyPath string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { t.Fatalf("key: %v", err) }
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        Subject:               pkix.Name{CommonName: "minions-integration"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    if err != nil { t.Fatalf("cert: %v", err) }
    kb, err := x509.MarshalECPrivateKey(key)
    if err != nil { t.Fatalf("marshal key: %v", err) }
    dir := t.TempDir()
    certPath, keyPath = filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
    if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil { t.Fatal(err) }
    if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}), 0o600); err != nil { t.Fatal(err) }
    return certPath, keyPath
}

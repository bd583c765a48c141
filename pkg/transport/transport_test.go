package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateTestCA(t *testing.T) (tls.Certificate, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fog-hub test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}, cert, key
}

func generateTestLeaf(t *testing.T, caCert *x509.Certificate, caKey *ecdsa.PrivateKey, cn string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf)

	require.NoError(t, fw.WriteFrame([]byte("hello")))
	require.NoError(t, fw.WriteFrame([]byte("world")))

	got, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestFrameWriterRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	require.ErrorIs(t, fw.WriteFrame(nil), ErrMessageEmpty)
}

func TestFrameWriterRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriterWithMaxSize(&buf, 4)
	require.ErrorIs(t, fw.WriteFrame([]byte("toolong")), ErrMessageTooLarge)
}

func TestFrameReaderRejectsTruncated(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	require.NoError(t, fw.WriteFrame([]byte("hello")))

	truncated := bytes.NewReader(buf.Bytes()[:6])
	fr := NewFrameReader(truncated)
	_, err := fr.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTruncated)
}

func TestAcceptorMutualTLSHandshakeAndSPKI(t *testing.T) {
	_, caLeaf, caKey := generateTestCA(t)
	serverCert := generateTestLeaf(t, caLeaf, caKey, "gateway.local")
	clientCert := generateTestLeaf(t, caLeaf, caKey, "device-1")

	pool := x509.NewCertPool()
	pool.AddCert(caLeaf)

	acceptor, err := NewAcceptor(AcceptorConfig{
		Address: "127.0.0.1:0",
		TLSConfig: &TLSConfig{
			Certificate: serverCert,
			ClientCAs:   pool,
		},
	})
	require.NoError(t, err)
	require.NoError(t, acceptor.Listen())
	defer acceptor.Close()

	connCh := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := acceptor.Accept(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	clientPool := x509.NewCertPool()
	clientPool.AddCert(caLeaf)
	clientTLSConf := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      clientPool,
		ServerName:   "gateway.local",
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPNProtocol},
	}

	rawClient, err := net.Dial("tcp", acceptor.Addr().String())
	require.NoError(t, err)
	defer rawClient.Close()

	clientConn := tls.Client(rawClient, clientTLSConf)
	require.NoError(t, clientConn.HandshakeContext(context.Background()))

	select {
	case conn := <-connCh:
		defer conn.Close()
		require.NotEmpty(t, conn.SubjectPublicKeyInfo())

		expectedSPKI, err := x509.MarshalPKIXPublicKey(clientCert.Leaf.PublicKey)
		require.NoError(t, err)
		require.Equal(t, expectedSPKI, conn.SubjectPublicKeyInfo())
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestAcceptorRejectsUntrustedClient(t *testing.T) {
	caCert, caLeaf, caKey := generateTestCA(t)
	_ = caCert
	serverCert := generateTestLeaf(t, caLeaf, caKey, "gateway.local")

	otherCA, otherCALeaf, otherCAKey := generateTestCA(t)
	_ = otherCA
	untrustedClientCert := generateTestLeaf(t, otherCALeaf, otherCAKey, "rogue-device")

	pool := x509.NewCertPool()
	pool.AddCert(caLeaf)

	acceptor, err := NewAcceptor(AcceptorConfig{
		Address: "127.0.0.1:0",
		TLSConfig: &TLSConfig{
			Certificate: serverCert,
			ClientCAs:   pool,
		},
	})
	require.NoError(t, err)
	require.NoError(t, acceptor.Listen())
	defer acceptor.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := acceptor.Accept(context.Background())
		errCh <- err
	}()

	clientPool := x509.NewCertPool()
	clientPool.AddCert(caLeaf)
	clientTLSConf := &tls.Config{
		Certificates: []tls.Certificate{untrustedClientCert},
		RootCAs:      clientPool,
		ServerName:   "gateway.local",
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPNProtocol},
	}

	rawClient, err := net.Dial("tcp", acceptor.Addr().String())
	require.NoError(t, err)
	defer rawClient.Close()

	clientConn := tls.Client(rawClient, clientTLSConf)
	_ = clientConn.HandshakeContext(context.Background())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept to fail")
	}
}

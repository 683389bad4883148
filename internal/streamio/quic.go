package streamio

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

// maxQuicMessageSize bounds a single unidirectional stream read.
const maxQuicMessageSize = 10 * 1024 * 1024

// QUICReader dials a QUIC server and reads each accepted unidirectional
// stream to completion as one message.
type QUICReader struct {
	addr       string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	conn quic.Connection
}

// NewQUICReader builds a reader that connects to addr. insecureSkipVerify
// accepts self-signed server certificates, matching the deployment model
// where coordinator and worker trust each other out of band; pass a real
// tls.Config via WithTLSConfig to verify certificates in production.
func NewQUICReader(addr string, insecureSkipVerify bool) *QUICReader {
	return &QUICReader{
		addr: addr,
		tlsConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify,
			NextProtos:         []string{"ziskgo"},
		},
		quicConfig: &quic.Config{MaxIncomingUniStreams: 1024},
	}
}

// WithTLSConfig replaces the dial TLS configuration, letting production
// deployments verify server certificates against a real trust root. Must
// be called before Open.
func (r *QUICReader) WithTLSConfig(cfg *tls.Config) *QUICReader {
	r.tlsConfig = cfg
	return r
}

func (r *QUICReader) Active() bool { return r.conn != nil }

func (r *QUICReader) Open() error {
	if r.Active() {
		return nil
	}
	conn, err := quic.DialAddr(context.Background(), r.addr, r.tlsConfig, r.quicConfig)
	if err != nil {
		return fmt.Errorf("streamio: failed to connect to %q: %w", r.addr, err)
	}
	r.conn = conn
	return nil
}

func (r *QUICReader) Next() ([]byte, error) {
	if err := r.Open(); err != nil {
		return nil, err
	}

	stream, err := r.conn.AcceptUniStream(context.Background())
	if err != nil {
		var appErr *quic.ApplicationError
		if errors.As(err, &appErr) {
			return nil, nil
		}
		var idleErr *quic.IdleTimeoutError
		if errors.As(err, &idleErr) {
			return nil, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("streamio: failed to accept stream: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(stream, maxQuicMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("streamio: failed to read from stream: %w", err)
	}
	if len(data) > maxQuicMessageSize {
		return nil, fmt.Errorf("streamio: message exceeds %d byte limit", maxQuicMessageSize)
	}
	return data, nil
}

func (r *QUICReader) Close() error {
	if r.conn != nil {
		r.conn.CloseWithError(0, "closing")
		r.conn = nil
	}
	return nil
}

// QUICWriter listens for a single QUIC connection and sends each message
// on its own unidirectional stream, giving the reader a natural boundary.
type QUICWriter struct {
	addr       string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener
	conn     quic.Connection
}

func NewQUICWriter(addr string) (*QUICWriter, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("streamio: failed to generate certificate: %w", err)
	}
	return &QUICWriter{
		addr:       addr,
		tlsConfig:  &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"ziskgo"}},
		quicConfig: &quic.Config{MaxIncomingUniStreams: 1024},
	}, nil
}

// WithTLSConfig replaces the listener TLS configuration (certificates
// included), overriding the generated self-signed default. Must be called
// before Open.
func (w *QUICWriter) WithTLSConfig(cfg *tls.Config) *QUICWriter {
	w.tlsConfig = cfg
	return w
}

func (w *QUICWriter) Active() bool { return w.conn != nil }

func (w *QUICWriter) Open() error {
	if w.Active() {
		return nil
	}

	if w.listener == nil {
		listener, err := quic.ListenAddr(w.addr, w.tlsConfig, w.quicConfig)
		if err != nil {
			return fmt.Errorf("streamio: failed to create listener: %w", err)
		}
		w.listener = listener
	}

	conn, err := w.listener.Accept(context.Background())
	if err != nil {
		return fmt.Errorf("streamio: failed to accept connection: %w", err)
	}
	w.conn = conn
	return nil
}

func (w *QUICWriter) Write(item []byte) (int, error) {
	if err := w.Open(); err != nil {
		return 0, err
	}

	stream, err := w.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return 0, fmt.Errorf("streamio: failed to open stream: %w", err)
	}
	if _, err := stream.Write(item); err != nil {
		return 0, fmt.Errorf("streamio: failed to write to stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("streamio: failed to finish stream: %w", err)
	}
	return len(item), nil
}

func (w *QUICWriter) Flush() error { return nil }

func (w *QUICWriter) Close() error {
	if w.conn != nil {
		w.conn.CloseWithError(0, "closing")
		w.conn = nil
	}
	if w.listener != nil {
		w.listener.Close()
		w.listener = nil
	}
	return nil
}

// generateSelfSignedCert produces an ephemeral certificate for development
// and intra-cluster use, where coordinator/worker trust is established out
// of band rather than through a CA chain.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "ziskgo"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return tls.X509KeyPair(certPEM, keyPEM)
}

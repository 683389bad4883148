package streamio

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQUICSingleMessage(t *testing.T) {
	const addr = "127.0.0.1:15901"

	writer, err := NewQUICWriter(addr)
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_, werr := writer.Write([]byte("Hello, QUIC!"))
		require.NoError(t, werr)
		time.Sleep(200 * time.Millisecond)
		writer.Close()
	}()

	time.Sleep(100 * time.Millisecond)

	reader := NewQUICReader(addr, true)
	require.NoError(t, reader.Open())

	msg, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("Hello, QUIC!"), msg)
	reader.Close()

	<-writerDone
}

func TestQUICCallerSuppliedTLSConfig(t *testing.T) {
	const addr = "127.0.0.1:15903"

	writer, err := NewQUICWriter(addr)
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_, werr := writer.Write([]byte("override"))
		require.NoError(t, werr)
		time.Sleep(200 * time.Millisecond)
		writer.Close()
	}()

	time.Sleep(100 * time.Millisecond)

	// A caller-supplied config fully replaces the constructor default; it
	// must carry the ALPN protocol itself.
	reader := NewQUICReader(addr, false).WithTLSConfig(&tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"ziskgo"},
	})
	require.NoError(t, reader.Open())

	msg, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("override"), msg)
	reader.Close()

	<-writerDone
}

func TestQUICMessageBoundaries(t *testing.T) {
	const addr = "127.0.0.1:15902"

	writer, err := NewQUICWriter(addr)
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_, werr := writer.Write([]byte("ABC"))
		require.NoError(t, werr)
		_, werr = writer.Write([]byte("DEF"))
		require.NoError(t, werr)
		time.Sleep(200 * time.Millisecond)
		writer.Close()
	}()

	time.Sleep(100 * time.Millisecond)

	reader := NewQUICReader(addr, true)
	require.NoError(t, reader.Open())

	msg1, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("ABC"), msg1)

	msg2, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("DEF"), msg2)

	reader.Close()
	<-writerDone
}

package udprelay

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go.badvpn.dev/relaycore/cipher"
	"go.badvpn.dev/relaycore/ordermap"
	"go.badvpn.dev/relaycore/reactor"
	"go.badvpn.dev/relaycore/resolver"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// echoDestination simulates an arbitrary internet endpoint: it reads one
// datagram and writes back an upper-cased copy to the sender.
func echoDestination(t *testing.T, conn *net.UDPConn) {
	t.Helper()
	go func() {
		buf := make([]byte, 2048)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reply := make([]byte, n)
		for i, b := range buf[:n] {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			reply[i] = b
		}
		conn.WriteToUDP(reply, from)
	}()
}

func TestLocalRemoteRoundTripIPv4(t *testing.T) {
	r := reactor.New()
	go r.Run()
	defer r.Stop()

	clientConn := listenLoopback(t)
	localListen := listenLoopback(t)
	remoteListen := listenLoopback(t)
	dest := listenLoopback(t)
	echoDestination(t, dest)

	c := cipher.Identity{}
	log := zap.NewNop()

	ls := NewLocalServer(r, localListen, remoteListen.LocalAddr().(*net.UDPAddr), c, defaultMTU, MinUDPTimeout, log, "local")
	defer ls.Close()
	rs := NewRemoteServer(r, remoteListen, c, defaultMTU, MinUDPTimeout, resolver.NewCachedResolver(r, nil), log, "remote")
	defer rs.Close()

	destAddr := dest.LocalAddr().(*net.UDPAddr)
	ep := Endpoint{ATYP: atypIPv4, IP: destAddr.IP.To4(), Port: uint16(destAddr.Port)}
	datagram, err := ComposeClientHeader(ep, []byte("hello"))
	require.NoError(t, err)

	_, err = clientConn.WriteToUDP(datagram, localListen.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)

	_, payload, err := ParseClientHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(payload))
}

func TestLocalCacheReusesEntryForSameClient(t *testing.T) {
	r := reactor.New()
	go r.Run()
	defer r.Stop()

	localListen := listenLoopback(t)
	remoteAddr := listenLoopback(t).LocalAddr().(*net.UDPAddr)

	ls := NewLocalServer(r, localListen, remoteAddr, cipher.Identity{}, defaultMTU, MinUDPTimeout, zap.NewNop(), "local")
	defer ls.Close()

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	datagram, err := ComposeClientHeader(Endpoint{ATYP: atypIPv4, IP: net.IPv4(8, 8, 8, 8).To4(), Port: 53}, []byte("x"))
	require.NoError(t, err)

	done := make(chan struct{})
	r.EnqueuePending(func() {
		ls.handleClientDatagram(datagram, from)
		first := ls.cache.len()
		ls.handleClientDatagram(datagram, from)
		second := ls.cache.len()
		require.Equal(t, 1, first)
		require.Equal(t, 1, second)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reactor to process datagrams")
	}
}

func TestLocalCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	r := reactor.New()
	go r.Run()
	defer r.Stop()

	localListen := listenLoopback(t)
	remoteAddr := listenLoopback(t).LocalAddr().(*net.UDPAddr)

	ls := NewLocalServer(r, localListen, remoteAddr, cipher.Identity{}, defaultMTU, MinUDPTimeout, zap.NewNop(), "local")
	defer ls.Close()

	datagram, err := ComposeClientHeader(Endpoint{ATYP: atypIPv4, IP: net.IPv4(8, 8, 8, 8).To4(), Port: 53}, []byte("x"))
	require.NoError(t, err)

	done := make(chan struct{})
	r.EnqueuePending(func() {
		for i := 0; i < MaxLocalConns+1; i++ {
			from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + i}
			ls.handleClientDatagram(datagram, from)
		}
		require.Equal(t, MaxLocalConns, ls.cache.len())
		_, firstStillCached := ls.cache.byKey.Get(ordermap.NewEndpointKey(net.IPv4(127, 0, 0, 1), 40000, 0))
		require.False(t, firstStillCached, "least recently used client endpoint should have been evicted")
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reactor to process datagrams")
	}
}

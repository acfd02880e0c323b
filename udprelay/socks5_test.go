package udprelay

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestAddrHeaderRoundTripIPv4(t *testing.T) {
	ep := Endpoint{ATYP: atypIPv4, IP: net.IPv4(203, 0, 113, 7).To4(), Port: 53}
	hdr, err := composeAddrHeader(ep)
	require.NoError(t, err)

	payload := []byte("hello")
	got, rest, err := parseAddrHeader(append(append([]byte(nil), hdr...), payload...))
	require.NoError(t, err)
	require.Equal(t, payload, rest)
	if diff := cmp.Diff(ep.ATYP, got.ATYP); diff != "" {
		t.Errorf("ATYP mismatch (-want +got):\n%s", diff)
	}
	require.True(t, ep.IP.Equal(got.IP))
	require.Equal(t, ep.Port, got.Port)
}

func TestAddrHeaderRoundTripIPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	ep := Endpoint{ATYP: atypIPv6, IP: ip, Port: 443}
	hdr, err := composeAddrHeader(ep)
	require.NoError(t, err)

	payload := []byte{1, 2, 3}
	got, rest, err := parseAddrHeader(append(append([]byte(nil), hdr...), payload...))
	require.NoError(t, err)
	require.Equal(t, payload, rest)
	require.Equal(t, byte(atypIPv6), got.ATYP)
	require.True(t, ip.Equal(got.IP))
	require.Equal(t, ep.Port, got.Port)
}

func TestAddrHeaderRoundTripDomain(t *testing.T) {
	ep := Endpoint{ATYP: atypDomain, Domain: "example.com", Port: 8080}
	hdr, err := composeAddrHeader(ep)
	require.NoError(t, err)

	payload := []byte("ping")
	got, rest, err := parseAddrHeader(append(append([]byte(nil), hdr...), payload...))
	require.NoError(t, err)
	require.Equal(t, payload, rest)
	require.Equal(t, byte(atypDomain), got.ATYP)
	require.Equal(t, ep.Domain, got.Domain)
	require.Equal(t, ep.Port, got.Port)
}

func TestParseClientHeaderRejectsFragment(t *testing.T) {
	datagram := []byte{0, 0, 1, atypIPv4, 1, 2, 3, 4, 0, 80}
	_, _, err := ParseClientHeader(datagram)
	require.ErrorIs(t, err, ErrFragmented)
}

func TestParseClientHeaderRejectsShort(t *testing.T) {
	_, _, err := ParseClientHeader([]byte{0, 0})
	require.Error(t, err)
}

func TestComposeClientHeaderRoundTrip(t *testing.T) {
	ep := Endpoint{ATYP: atypIPv4, IP: net.IPv4(10, 0, 0, 1).To4(), Port: 9000}
	datagram, err := ComposeClientHeader(ep, []byte("payload"))
	require.NoError(t, err)

	got, payload, err := ParseClientHeader(datagram)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), payload)
	require.True(t, ep.IP.Equal(got.IP))
	require.Equal(t, ep.Port, got.Port)
}

func TestEndpointFromUDPAddr(t *testing.T) {
	v4 := EndpointFromUDPAddr(&net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 53})
	require.Equal(t, byte(atypIPv4), v4.ATYP)

	v6 := EndpointFromUDPAddr(&net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 53})
	require.Equal(t, byte(atypIPv6), v6.ATYP)
}

package main

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"go.badvpn.dev/relaycore/dhcpv4"
	"go.badvpn.dev/relaycore/metrics"
	"go.badvpn.dev/relaycore/packetio"
	"go.badvpn.dev/relaycore/randsrc"
	"go.badvpn.dev/relaycore/reactor"
)

var (
	dhcpIface    string
	dhcpMACHex   string
	dhcpHostname string
	dhcpMTU      uint16
)

var serveDHCPCmd = &cobra.Command{
	Use:   "dhcp",
	Short: "Acquire and renew a DHCPv4 lease on iface",
	RunE:  runServeDHCP,
}

func init() {
	flags := serveDHCPCmd.Flags()
	flags.StringVar(&dhcpIface, "iface", "", "network interface name to bind the broadcast socket to")
	flags.StringVar(&dhcpMACHex, "mac", "", "client hardware address, colon-hex (aa:bb:cc:dd:ee:ff)")
	flags.StringVar(&dhcpHostname, "hostname", "", "DHCP option 12 hostname to advertise")
	flags.Uint16Var(&dhcpMTU, "mtu", 1500, "path MTU")
	serveDHCPCmd.MarkFlagRequired("mac")
}

// broadcastUDPSocket binds a UDP socket to :68 with SO_BROADCAST set, so
// the client can both receive the server's broadcast replies and send
// DISCOVER/REQUEST to 255.255.255.255:67. Grounded on mdns.go's
// makeUdpSocketWithReusePort control-function pattern for setting socket
// options net.ListenConfig has no first-class flag for.
func broadcastUDPSocket(iface string) (*net.UDPConn, error) {
	control := func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			if sockErr != nil {
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if sockErr != nil {
				return
			}
			if iface != "" {
				sockErr = unix.BindToDevice(int(fd), iface)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":68")
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("relaycored: %q is not a 6-byte Ethernet address", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

func runServeDHCP(cmd *cobra.Command, args []string) error {
	log := rootLogger.With(zap.String("component", "dhcp"))

	clientMAC, err := parseMAC(dhcpMACHex)
	if err != nil {
		return fmt.Errorf("relaycored: parsing --mac: %w", err)
	}

	conn, err := broadcastUDPSocket(dhcpIface)
	if err != nil {
		return fmt.Errorf("relaycored: binding broadcast socket: %w", err)
	}
	defer conn.Close()

	r := reactor.New()
	go r.Run()
	defer r.Stop()

	sock := packetio.NewUDPSocket(conn, r)
	sock.SetSendTarget(&net.UDPAddr{IP: net.IPv4bcast, Port: 67})

	client := dhcpv4.New(r, sock, sock, randsrc.CryptoSource{})

	lastStats := dhcpv4.Stats{}
	reportStats := func() {
		s := client.Stats
		metrics.DHCPRetransmits.WithLabelValues("discover").Add(float64(s.DiscoversSent - lastStats.DiscoversSent))
		metrics.DHCPRetransmits.WithLabelValues("request").Add(float64(s.RequestsSent - lastStats.RequestsSent))
		metrics.DHCPStateTransitions.WithLabelValues("offer_received").Add(float64(s.OffersReceived - lastStats.OffersReceived))
		metrics.DHCPStateTransitions.WithLabelValues("ack_received").Add(float64(s.AcksReceived - lastStats.AcksReceived))
		metrics.DHCPStateTransitions.WithLabelValues("nak_received").Add(float64(s.NaksReceived - lastStats.NaksReceived))
		metrics.DHCPStateTransitions.WithLabelValues("reset").Add(float64(s.Resets - lastStats.Resets))
		metrics.DHCPStateTransitions.WithLabelValues("renew").Add(float64(s.Renews - lastStats.Renews))
		lastStats = s
	}

	onUp := func(lease dhcpv4.Lease) {
		metrics.DHCPLeaseActive.Set(1)
		reportStats()
		log.Info("lease acquired",
			zap.String("addr", net.IP(lease.Addr[:]).String()),
			zap.Uint32("lease_seconds", lease.LeaseSeconds))
	}
	onDown := func() {
		metrics.DHCPLeaseActive.Set(0)
		reportStats()
		log.Warn("lease lost")
	}
	// packetio is IP-level only; this client has no link-layer visibility
	// into the replying server's Ethernet source address, so getServerMAC
	// reports the broadcast address rather than the true server MAC.
	getServerMAC := func() [6]byte { return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }

	opts := dhcpv4.StartOptions{Hostname: dhcpHostname}
	if err := client.Start(int(dhcpMTU), opts, clientMAC, onUp, onDown, getServerMAC); err != nil {
		return fmt.Errorf("relaycored: starting dhcp client: %w", err)
	}

	log.Info("dhcp client started", zap.String("mac", dhcpMACHex))
	startDebugServers(log)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info("dhcp client shutting down")
			return nil
		case <-ticker.C:
			r.EnqueuePending(reportStats)
		}
	}
}

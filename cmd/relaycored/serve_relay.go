package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.badvpn.dev/relaycore/cipher"
	"go.badvpn.dev/relaycore/randsrc"
	"go.badvpn.dev/relaycore/reactor"
	"go.badvpn.dev/relaycore/relayconfig"
	"go.badvpn.dev/relaycore/resolver"
	"go.badvpn.dev/relaycore/udprelay"
)

var (
	relayMode       string
	relayListenAddr string
	relayRemoteAddr string
	relayPSKHex     string
	relayMTU        uint16
	relayTimeout    time.Duration
)

var serveRelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the encrypted UDP relay, in local or remote mode",
	RunE:  runServeRelay,
}

func init() {
	flags := serveRelayCmd.Flags()
	flags.StringVar(&relayMode, "mode", "local", `relay mode: "local" (client-facing) or "remote" (internet-facing)`)
	flags.StringVar(&relayListenAddr, "listen", "", "address to listen on")
	flags.StringVar(&relayRemoteAddr, "remote", "", "remote relay address (local mode only)")
	flags.StringVar(&relayPSKHex, "psk", "", "hex-encoded 32-byte pre-shared key")
	flags.Uint16Var(&relayMTU, "mtu", 1492, "path MTU, at least relayconfig.MinMTU")
	flags.DurationVar(&relayTimeout, "idle-timeout", udprelay.MinUDPTimeout, "idle timeout before an upstream connection is evicted")
	serveRelayCmd.MarkFlagRequired("listen")
	serveRelayCmd.MarkFlagRequired("psk")
}

func runServeRelay(cmd *cobra.Command, args []string) error {
	log := rootLogger.With(zap.String("component", "udprelay"), zap.String("mode", relayMode))

	key, err := hex.DecodeString(relayPSKHex)
	if err != nil {
		return fmt.Errorf("relaycored: decoding --psk: %w", err)
	}
	c, err := cipher.NewChaCha20Poly1305(key, randsrc.CryptoSource{})
	if err != nil {
		return fmt.Errorf("relaycored: building cipher: %w", err)
	}

	if int(relayMTU) < relayconfig.MinMTU {
		return fmt.Errorf("relaycored: mtu %d below minimum %d", relayMTU, relayconfig.MinMTU)
	}

	listenAddr, err := net.ResolveUDPAddr("udp", relayListenAddr)
	if err != nil {
		return fmt.Errorf("relaycored: resolving --listen: %w", err)
	}
	listenConn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("relaycored: listening on %s: %w", relayListenAddr, err)
	}

	r := reactor.New()
	go r.Run()
	defer r.Stop()

	var closer interface{ Close() }
	switch relayMode {
	case "local":
		if relayRemoteAddr == "" {
			return fmt.Errorf("relaycored: --remote is required in local mode")
		}
		remoteAddr, err := net.ResolveUDPAddr("udp", relayRemoteAddr)
		if err != nil {
			return fmt.Errorf("relaycored: resolving --remote: %w", err)
		}
		closer = udprelay.NewLocalServer(r, listenConn, remoteAddr, c, int(relayMTU), relayTimeout, log, "local")
	case "remote":
		res := resolver.NewCachedResolver(r, nil)
		closer = udprelay.NewRemoteServer(r, listenConn, c, int(relayMTU), relayTimeout, res, log, "remote")
	default:
		return fmt.Errorf("relaycored: unknown --mode %q", relayMode)
	}
	defer closer.Close()

	log.Info("relay serving", zap.String("listen", relayListenAddr))
	startDebugServers(log)

	<-cmd.Context().Done()
	log.Info("relay shutting down")
	return nil
}

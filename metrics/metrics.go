// Package metrics declares the Prometheus instrumentation exported by
// relaycored, grounded on the pack's promauto-vars convention
// (doublezero's telemetry services).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DHCPStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_dhcp_state_transitions_total",
		Help: "DHCP client state machine transitions, by destination state.",
	}, []string{"state"})

	DHCPLeaseActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_dhcp_lease_active",
		Help: "1 while the DHCP client holds a valid lease (FINISHED or RENEWING), 0 otherwise.",
	})

	DHCPRetransmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_dhcp_retransmits_total",
		Help: "DHCP message retransmissions, by message type.",
	}, []string{"message"})

	FrameDeciderPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_framedecider_peers",
		Help: "Number of peers currently registered with the frame decider.",
	})

	FrameDeciderMACEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_framedecider_mac_entries",
		Help: "Total learned MAC entries across all peers.",
	})

	FrameDeciderGroupEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaycore_framedecider_group_entries",
		Help: "Total learned multicast group entries across all peers.",
	})

	FrameDeciderEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_framedecider_evictions_total",
		Help: "Entries evicted from per-peer arenas, by entry kind.",
	}, []string{"kind"})

	UDPRelayCacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaycore_udprelay_cache_size",
		Help: "Current number of cached relay connections, by server.",
	}, []string{"server"})

	UDPRelayCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_udprelay_cache_evictions_total",
		Help: "Relay cache entries evicted, by server and reason.",
	}, []string{"server", "reason"})

	UDPRelayPacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_udprelay_packets_dropped_total",
		Help: "Datagrams dropped by the relay, by reason.",
	}, []string{"reason"})

	UDPRelayBytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycore_udprelay_bytes_forwarded_total",
		Help: "Payload bytes forwarded, by direction.",
	}, []string{"direction"})
)

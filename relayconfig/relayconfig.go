// Package relayconfig parses the UDP relay's YAML configuration,
// rejecting unknown keys so a typo in an operator's config file fails
// loudly instead of silently using a default.
package relayconfig

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"
)

// MinMTU is the smallest MTU the relay will accept, per spec.
const MinMTU = 576

// Options is the parsed, validated configuration for a single relay
// server instance. One Options corresponds to one `(listen_fd, cipher,
// timeout)` tuple.
type Options struct {
	TimeoutSeconds uint32 `yaml:"timeout_seconds"`
	MTU            uint16 `yaml:"mtu"`
	ReusePort      bool   `yaml:"reuse_port"`
	BindLocalAddr4 string `yaml:"bind_local_addr4"`
	BindLocalAddr6 string `yaml:"bind_local_addr6"`
}

// Timeout returns the configured idle timeout as a time.Duration.
func (o *Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Parse decodes YAML config data into Options, rejecting any key not
// named above.
func Parse(data []byte) (*Options, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var o Options
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("relayconfig: decode: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Validate checks the constraints spec.md §6 places on configuration
// values.
func (o *Options) Validate() error {
	if o.MTU != 0 && o.MTU < MinMTU {
		return fmt.Errorf("relayconfig: mtu %d below minimum %d", o.MTU, MinMTU)
	}
	if o.BindLocalAddr4 != "" {
		if ip := net.ParseIP(o.BindLocalAddr4); ip == nil || ip.To4() == nil {
			return fmt.Errorf("relayconfig: bind_local_addr4 %q is not a valid IPv4 address", o.BindLocalAddr4)
		}
	}
	if o.BindLocalAddr6 != "" {
		if ip := net.ParseIP(o.BindLocalAddr6); ip == nil || ip.To4() != nil {
			return fmt.Errorf("relayconfig: bind_local_addr6 %q is not a valid IPv6 address", o.BindLocalAddr6)
		}
	}
	return nil
}

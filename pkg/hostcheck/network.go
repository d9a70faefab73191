package hostcheck

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	// DisableInternetEnv force-disables the remote network check when set.
	DisableInternetEnv = "SKIPMARKERS_DISABLE_INTERNET_CHECKS"

	// DefaultDialTimeout bounds each outbound connection attempt.
	DefaultDialTimeout = 250 * time.Millisecond

	reasonNoLocalNetwork  = "No local network was detected"
	reasonNoRemoteNetwork = "No internet network connection was detected"
)

// RemoteAddrs are numeric addresses of stable public hosts, used to avoid DNS
// latency during the remote network check.
var RemoteAddrs = []string{
	"172.217.17.14",
	"172.217.16.238",
	"173.194.41.198",
	"173.194.41.199",
	"173.194.41.200",
	"173.194.41.201",
	"173.194.41.206",
	"173.194.41.192",
	"173.194.41.193",
	"173.194.41.194",
	"173.194.41.195",
	"173.194.41.196",
	"173.194.41.197",
	"216.58.201.174",
}

// NoLocalNetwork binds a throwaway TCP listener on an ephemeral port, trying
// IPv4 and then IPv6.
func (c *Checker) NoLocalNetwork() (string, bool) {
	for _, network := range []struct{ name, addr string }{
		{"tcp4", "0.0.0.0:0"},
		{"tcp6", "[::]:0"},
	} {
		ln, err := c.listen(network.name, network.addr)
		if err != nil {
			slog.Debug("local bind failed", "network", network.name, "error", err)
			continue
		}
		_ = ln.Close()
		return "", false
	}
	return reasonNoLocalNetwork, true
}

// NoRemoteNetwork tries short outbound TCP connections to RemoteAddrs on port
// 80, stopping at the first one that answers. Setting DisableInternetEnv skips
// the probe entirely.
func (c *Checker) NoRemoteNetwork() (string, bool) {
	if internetDisabled(c.lookupEnv) {
		return "Internet checks disabled by " + DisableInternetEnv, true
	}

	for _, addr := range c.remoteAddrs {
		if c.reachable(net.JoinHostPort(addr, "80")) {
			return "", false
		}
	}
	return reasonNoRemoteNetwork, true
}

// internetDisabled treats any non-empty value other than an explicit false as set.
func internetDisabled(lookupEnv func(string) (string, bool)) bool {
	v, ok := lookupEnv(DisableInternetEnv)
	if !ok || v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

func (c *Checker) reachable(address string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp4", address)
	if err != nil {
		slog.Debug("remote dial failed", "address", address, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

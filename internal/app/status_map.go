package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"bgtask/internal/config"
	"bgtask/internal/observability/status"
)

// mapStatusConfig validates and converts the status section. It never starts
// the server.
func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	var out status.Config
	if cfg == nil {
		return out, nil
	}
	sc := cfg.Status

	out.Enabled = sc.Enabled
	out.AllowInsecure = sc.AllowInsecure
	out.Pprof = sc.Pprof
	out.Token = strings.TrimSpace(sc.Token)
	out.Addr = strings.TrimSpace(sc.Addr)
	if out.Addr == "" {
		out.Addr = status.DefaultAddr
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("status.read_timeout", sc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	// 0 disables the write timeout
	if out.WriteTimeout, err = config.ParseDurationField("status.write_timeout", sc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("status.idle_timeout", sc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("status.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !status.IsLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("status: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// ListenConfig controls the port-contention retry spec §4.1 mandates: "If
// the configured port is already in use and the operator has not disabled
// the behavior, the server locates the owning process, terminates it,
// waits briefly, and retries the bind once before surfacing failure."
type ListenConfig struct {
	Addr              string
	KillOwningProcess bool
	RetryBackoff      time.Duration
}

// Listen binds Addr, applying the single kill-and-retry attempt on
// EADDRINUSE when KillOwningProcess is set.
func Listen(cfg ListenConfig) (net.Listener, error) {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err == nil {
		return ln, nil
	}
	if !cfg.KillOwningProcess || !isAddrInUse(err) {
		return nil, err
	}

	log.Warn().Str("addr", cfg.Addr).Msg("port in use, attempting to kill the owning process and retry")
	if killErr := killOwner(cfg.Addr); killErr != nil {
		log.Warn().Err(killErr).Str("addr", cfg.Addr).Msg("could not identify/kill the owning process")
	}
	time.Sleep(cfg.RetryBackoff)

	ln, retryErr := net.Listen("tcp", cfg.Addr)
	if retryErr != nil {
		return nil, fmt.Errorf("bind retry after port-contention kill: %w (original: %v)", retryErr, err)
	}
	return ln, nil
}

func isAddrInUse(err error) bool {
	var sysErr *net.OpError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return false
}

// killOwner locates and terminates whatever process owns Addr's port. This
// shells out to the platform's own port-inspection tool rather than
// reimplementing /proc/net/tcp parsing or a netlink socket query — the
// broker only needs this once, at boot, as a best-effort recovery, not a
// portable library feature.
func killOwner(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell", "-Command",
			fmt.Sprintf("Stop-Process -Id (Get-NetTCPConnection -LocalPort %s).OwningProcess -Force", port)).Run()
	}
	return exec.CommandContext(ctx, "fuser", "-k", port+"/tcp").Run()
}

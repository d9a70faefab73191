package platform

import (
	"crypto/md5" //nolint:gosec // probing whether MD5 is disabled
	"fmt"
	"hash"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

const (
	// systemFIPSPath exists when the system-wide FIPS policy is active.
	systemFIPSPath = "/etc/system-fips"

	// kernelFIPSPath holds "1" when the kernel runs in FIPS mode.
	kernelFIPSPath = "/proc/sys/crypto/fips_enabled"

	sysctlKey = "crypto.fips_enabled"
)

// IsFIPSEnabled reports whether the host enforces FIPS cryptographic mode. The
// signals are checked in order and the first positive one wins; a signal whose
// precondition is absent (missing file, missing tool) counts as negative.
func (p *Prober) IsFIPSEnabled() bool {
	checks := []struct {
		name string
		fn   func() bool
	}{
		{"system-fips", p.systemFIPSFile},
		{"kernel", p.kernelFIPSFlag},
		{"sysctl", p.sysctlFIPSFlag},
		{"crypto-module", p.fipsModule},
		{"md5", p.md5Disabled},
	}
	for _, c := range checks {
		if c.fn() {
			slog.Debug("fips mode detected", "signal", c.name)
			return true
		}
	}
	return false
}

func (p *Prober) systemFIPSFile() bool {
	ok, err := afero.Exists(p.fs, systemFIPSPath)
	return err == nil && ok
}

func (p *Prober) kernelFIPSFlag() bool {
	data, err := afero.ReadFile(p.fs, kernelFIPSPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

func (p *Prober) sysctlFIPSFlag() bool {
	path, err := p.lookPath("sysctl")
	if err != nil {
		return false
	}
	out, err := p.run(path, sysctlKey)
	if err != nil {
		slog.Debug("sysctl fips query failed", "error", err)
		return false
	}
	return parseSysctlFIPS(string(out))
}

// parseSysctlFIPS accepts output like "crypto.fips_enabled = 1".
func parseSysctlFIPS(out string) bool {
	out = strings.TrimSpace(out)
	if out == "" || !strings.Contains(out, "=") {
		return false
	}
	parts := strings.Split(out, "=")
	return strings.TrimSpace(parts[len(parts)-1]) == "1"
}

func (p *Prober) md5Disabled() bool {
	err := p.digest()
	return err != nil && isDigestUnsupported(err)
}

// isDigestUnsupported matches the errors raised when a FIPS-restricted provider
// refuses a non-approved hash.
func isDigestUnsupported(err error) bool {
	msg := err.Error()
	if strings.Contains(msg, "digital envelope routines") && strings.Contains(msg, "unsupported") {
		return true
	}
	return strings.Contains(msg, "FIPS 140-only mode")
}

func md5Digest() error {
	return writeDigest(md5.New()) //nolint:gosec
}

// writeDigest hashes a fixed input with h. A restricted provider may refuse
// the hash by failing Write or by panicking.
func writeDigest(h hash.Hash) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("md5: %v", r)
		}
	}()
	if _, err := h.Write([]byte("skipmarkers")); err != nil {
		return fmt.Errorf("md5: %w", err)
	}
	_ = h.Sum(nil)
	return nil
}

package platform

import (
	"log/slog"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

// osReleasePaths are the os-release locations in lookup order, per os-release(5).
var osReleasePaths = []string{
	"/etc/os-release",
	"/usr/lib/os-release",
}

// DistroName returns the Linux distribution NAME from os-release with any
// surrounding quotes removed, or "" if it cannot be determined.
func (p *Prober) DistroName() string {
	for _, path := range osReleasePaths {
		data, err := afero.ReadFile(p.fs, path)
		if err != nil {
			continue
		}
		name, err := parseOSReleaseName(data)
		if err != nil {
			slog.Debug("parsing os-release", "path", path, "error", err)
			continue
		}
		return name
	}
	return ""
}

func parseOSReleaseName(data []byte) (string, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return "", err
	}
	name := cfg.Section(ini.DefaultSection).Key("NAME").String()
	return strings.Trim(strings.TrimSpace(name), `"'`), nil
}

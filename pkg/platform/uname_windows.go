//go:build windows

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// hostUname synthesizes a uname tuple, since Windows has no uname(2).
func hostUname() (Uname, error) {
	u := Uname{
		Sysname: "Windows",
		Machine: os.Getenv("PROCESSOR_ARCHITECTURE"),
	}
	if name, err := os.Hostname(); err == nil {
		u.Nodename = name
	}
	v := windows.RtlGetVersion()
	u.Release = fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
	u.Version = windows.UTF16ToString(v.CsdVersion[:])
	return u, nil
}

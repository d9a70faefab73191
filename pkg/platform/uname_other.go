//go:build !unix && !windows

package platform

import "errors"

func hostUname() (Uname, error) {
	return Uname{}, errors.New("uname is not available on this platform")
}

//go:build !linux

package capture

import "github.com/pkg/errors"

func openXDP(cfg Config) (Source, error) {
	return nil, errors.New("xdp capture is only supported on linux")
}

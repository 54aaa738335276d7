//go:build !linux

package capture

import "github.com/pkg/errors"

func openAFPacket(cfg Config) (Source, error) {
	return nil, errors.New("af_packet capture is only supported on linux")
}

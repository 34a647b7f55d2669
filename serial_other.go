//go:build !linux

package swi

import "os"

const DefaultBaud = 115200

func OpenSerial(path string, baud int) (*os.File, error) {
	return nil, ErrSerialUnsupported
}

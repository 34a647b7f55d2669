//go:build linux

package swi

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBaud matches the microcontroller link.
const DefaultBaud = 115200

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// OpenSerial opens a tty and puts it in raw 8N1 mode at baud, with no flow
// control and no modem signalling.
func OpenSerial(path string, baud int) (*os.File, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	fd := int(f.Fd())
	tty, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading termios of %s: %w", path, err)
	}

	tty.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	tty.Oflag = 0
	tty.Lflag = 0
	tty.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	tty.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | speed
	tty.Ispeed = speed
	tty.Ospeed = speed
	tty.Cc[unix.VMIN] = 1
	tty.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tty); err != nil {
		f.Close()
		return nil, fmt.Errorf("configuring %s: %w", path, err)
	}
	return f, nil
}

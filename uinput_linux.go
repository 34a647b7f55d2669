//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x)

package swi

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultUinputPath is the uinput control device.
const DefaultUinputPath = "/dev/uinput"

// linux/input.h, linux/uinput.h; ioctl numbers use the generic encoding.
const (
	evSyn = 0x00
	evKey = 0x01

	inputPropDirect = 0x01
	busVirtual      = 0x06

	uiDevCreate   = 0x5501
	uiDevDestroy  = 0x5502
	uiSetEvBit    = 0x40045564
	uiSetKeyBit   = 0x40045565
	uiSetPropBit  = 0x4004556e
	uinputNameLen = 80
	absCount      = 64

	// key codes below this are enabled on the virtual device
	maxKeyCode = 0xff
)

var inputEventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// Uinput is a virtual keyboard created through /dev/uinput. It is a
// KeyEmitter for SerialReader.
type Uinput struct {
	f *os.File
}

// OpenUinput creates a virtual input device called name that can emit every
// key code below 0xff.
func OpenUinput(path, name string) (*Uinput, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	fd := int(f.Fd())

	fail := func(step string, err error) (*Uinput, error) {
		f.Close()
		return nil, fmt.Errorf("%s on %s: %w", step, path, err)
	}

	if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
		return fail("enabling key events", err)
	}
	for code := 0; code < maxKeyCode; code++ {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, code); err != nil {
			return fail("enabling key codes", err)
		}
	}
	// Older kernels lack input properties; the device works without.
	_ = unix.IoctlSetInt(fd, uiSetPropBit, inputPropDirect)

	if _, err := f.Write(encodeUinputUserDev(name)); err != nil {
		return fail("writing device description", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fail("creating device", err)
	}
	return &Uinput{f: f}, nil
}

// EmitKey sends a key press or release followed by a sync report.
func (u *Uinput) EmitKey(code uint16, down bool) error {
	var value int32
	if down {
		value = 1
	}
	buf := append(encodeInputEvent(evKey, code, value), encodeInputEvent(evSyn, 0, 0)...)
	if _, err := u.f.Write(buf); err != nil {
		return fmt.Errorf("writing key event: %w", err)
	}
	return nil
}

func (u *Uinput) Close() error {
	unix.IoctlSetInt(int(u.f.Fd()), uiDevDestroy, 0)
	return u.f.Close()
}

// encodeInputEvent lays out a struct input_event with a zero timestamp;
// the kernel stamps events written to uinput.
func encodeInputEvent(typ, code uint16, value int32) []byte {
	buf := make([]byte, inputEventSize)
	off := inputEventSize - 8
	binary.NativeEndian.PutUint16(buf[off:], typ)
	binary.NativeEndian.PutUint16(buf[off+2:], code)
	binary.NativeEndian.PutUint32(buf[off+4:], uint32(value))
	return buf
}

// encodeUinputUserDev lays out a struct uinput_user_dev with no absolute
// axes and no force feedback.
func encodeUinputUserDev(name string) []byte {
	buf := make([]byte, uinputNameLen+8+4+4*absCount*4)
	copy(buf[:uinputNameLen-1], name)
	binary.NativeEndian.PutUint16(buf[uinputNameLen:], busVirtual)
	binary.NativeEndian.PutUint16(buf[uinputNameLen+2:], 0x1) // vendor
	binary.NativeEndian.PutUint16(buf[uinputNameLen+4:], 0x1) // product
	binary.NativeEndian.PutUint16(buf[uinputNameLen+6:], 1)   // version
	return buf
}

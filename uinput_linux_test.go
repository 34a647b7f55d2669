//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x)

package swi

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInputEvent(t *testing.T) {
	buf := encodeInputEvent(evKey, 30, 1)
	require.Len(t, buf, inputEventSize)

	off := inputEventSize - 8
	assert.Equal(t, make([]byte, off), buf[:off], "timestamp left for the kernel")
	assert.Equal(t, uint16(evKey), binary.NativeEndian.Uint16(buf[off:]))
	assert.Equal(t, uint16(30), binary.NativeEndian.Uint16(buf[off+2:]))
	assert.Equal(t, uint32(1), binary.NativeEndian.Uint32(buf[off+4:]))
}

func TestEncodeUinputUserDev(t *testing.T) {
	buf := encodeUinputUserDev("swid")
	require.Len(t, buf, 1116)
	assert.Equal(t, "swid", string(buf[:4]))
	assert.Zero(t, buf[4])
	assert.Equal(t, uint16(busVirtual), binary.NativeEndian.Uint16(buf[uinputNameLen:]))
}

func TestEncodeUinputUserDevLongName(t *testing.T) {
	name := strings.Repeat("x", 200)
	buf := encodeUinputUserDev(name)
	// The name stays NUL terminated inside its field.
	assert.Zero(t, buf[uinputNameLen-1])
}

func TestOpenUinputMissingDevice(t *testing.T) {
	_, err := OpenUinput(filepath.Join(t.TempDir(), "uinput"), "swid")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

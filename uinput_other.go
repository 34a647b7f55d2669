//go:build !linux || !(386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x)

package swi

const DefaultUinputPath = "/dev/uinput"

type Uinput struct{}

func OpenUinput(path, name string) (*Uinput, error) {
	return nil, ErrUinputUnsupported
}

func (u *Uinput) EmitKey(code uint16, down bool) error {
	return ErrUinputUnsupported
}

func (u *Uinput) Close() error {
	return nil
}

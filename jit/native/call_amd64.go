//go:build amd64 && (linux || darwin || freebsd || windows)

package native

import (
	"bytes"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

const callable = true

// The context argument is the image base; generated code ignores it.

func (m *Module) Serialize(state, out []byte) int {
	r1, _, _ := purego.SyscallN(m.serialize, m.Base(),
		uintptr(unsafe.Pointer(unsafe.SliceData(state))),
		uintptr(unsafe.Pointer(unsafe.SliceData(out))))
	runtime.KeepAlive(state)
	runtime.KeepAlive(out)
	return int(r1)
}

// Deserialize stops at the first '\r', '\n' or NUL. Lines without one are
// copied and terminated first.
func (m *Module) Deserialize(state, in []byte) int {
	if bytes.IndexAny(in, "\x00\r\n") >= 0 {
		return m.callDeserialize(state, in)
	}
	buf := m.scratch.Get().(*[]byte)
	*buf = append(append((*buf)[:0], in...), 0)
	n := m.callDeserialize(state, *buf)
	m.scratch.Put(buf)
	return n
}

func (m *Module) callDeserialize(state, in []byte) int {
	r1, _, _ := purego.SyscallN(m.deserialize, m.Base(),
		uintptr(unsafe.Pointer(unsafe.SliceData(state))),
		uintptr(unsafe.Pointer(unsafe.SliceData(in))))
	runtime.KeepAlive(state)
	runtime.KeepAlive(in)
	return int(r1)
}

func (m *Module) Read(state []byte, controller, control int) int16 {
	r1, _, _ := purego.SyscallN(m.read, m.Base(),
		uintptr(unsafe.Pointer(unsafe.SliceData(state))),
		uintptr(controller), uintptr(control))
	runtime.KeepAlive(state)
	return int16(r1)
}

func (m *Module) Write(state []byte, controller, control int, v int16) {
	purego.SyscallN(m.write, m.Base(),
		uintptr(unsafe.Pointer(unsafe.SliceData(state))),
		uintptr(controller), uintptr(control), uintptr(v))
	runtime.KeepAlive(state)
}

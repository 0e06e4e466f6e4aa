//go:build !(amd64 && (linux || darwin || freebsd || windows))

package native

const callable = false

func (m *Module) Serialize(state, out []byte) int { panic(ErrUnsupportedHost) }

func (m *Module) Deserialize(state, in []byte) int { panic(ErrUnsupportedHost) }

func (m *Module) Read(state []byte, controller, control int) int16 { panic(ErrUnsupportedHost) }

func (m *Module) Write(state []byte, controller, control int, v int16) { panic(ErrUnsupportedHost) }

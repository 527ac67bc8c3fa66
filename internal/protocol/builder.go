package protocol

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// PacketBuilder accumulates little-endian binary data.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// ---- Pre-built command frames ----

// mustEncode encodes commands of the fixed vocabulary, which always fit one header.
func mustEncode(c Command) []byte {
	frame, err := Encode(c)
	if err != nil {
		panic(err)
	}
	return frame
}

// BuildPing creates network/ping.
func BuildPing() []byte {
	return mustEncode(Texts(CategoryNetwork, ActionPing))
}

// BuildPong creates network/pong.
func BuildPong() []byte {
	return mustEncode(Texts(CategoryNetwork, ActionPong))
}

// BuildRegister creates network/register with the requested role.
func BuildRegister(role Role) []byte {
	return mustEncode(Texts(CategoryNetwork, ActionRegister, string(role)))
}

// BuildIsRegistrationPossible creates network/isRegistrationPossible.
func BuildIsRegistrationPossible() []byte {
	return mustEncode(Texts(CategoryNetwork, ActionIsRegistrationPossible))
}

// BuildDisconnect creates network/disconnect.
func BuildDisconnect() []byte {
	return mustEncode(Texts(CategoryNetwork, ActionDisconnect))
}

// BuildContentsGet creates contents/get.
func BuildContentsGet() []byte {
	return mustEncode(Texts(CategoryContents, ActionGet))
}

// BuildContentsPut creates contents/put carrying a manifest.
func BuildContentsPut(manifestJSON string) []byte {
	return mustEncode(Texts(CategoryContents, ActionPut, manifestJSON))
}

// BuildMediaPut creates media/put: [media, put, kind, <file bytes>].
func BuildMediaPut(kind MediaKind, file []byte) []byte {
	return mustEncode(NewCommand(
		Text(CategoryMedia),
		Text(ActionPut),
		Text(string(kind)),
		Binary(file),
	))
}

// BuildMediaDelete creates media/delete for a remote media id.
func BuildMediaDelete(mediaID int) []byte {
	return mustEncode(Texts(CategoryMedia, ActionDelete, strconv.Itoa(mediaID)))
}

// BuildMediaControl creates media/control with free-form arguments.
func BuildMediaControl(command string, args ...string) ([]byte, error) {
	return Encode(Texts(append([]string{CategoryMedia, ActionControl, command}, args...)...))
}

// BuildLight creates a light command: [light, preset, args...].
func BuildLight(preset string, args ...string) ([]byte, error) {
	return Encode(Texts(append([]string{CategoryLight, preset}, args...)...))
}

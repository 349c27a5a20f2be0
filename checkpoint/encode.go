package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// Checkpoint file layout: 4-byte magic, format version byte, codec byte,
// then the codec-compressed gob payload.
var magic = [4]byte{'T', 'R', 'H', 'D'}

const formatVersion = 1

// Encode serializes a state into w using the given codec.
func Encode(w io.Writer, state *State, c Compression) error {
	header := []byte{magic[0], magic[1], magic[2], magic[3], formatVersion, byte(c)}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}

	cw, err := c.compressor(w)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(cw).Encode(state); err != nil {
		cw.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return cw.Close()
}

// EncodeBytes serializes a state into a byte slice.
func EncodeBytes(state *State, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, state, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a state from r, using the codec recorded in the header.
func Decode(r io.Reader) (*State, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read checkpoint header: %w", err)
	}
	if [4]byte(header[:4]) != magic {
		return nil, fmt.Errorf("not a checkpoint file")
	}
	if header[4] != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint format version: %d", header[4])
	}

	cr, err := Compression(header[5]).decompressor(r)
	if err != nil {
		return nil, err
	}

	var state State
	if err := gob.NewDecoder(cr).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

// DecodeBytes reads a state from a byte slice.
func DecodeBytes(data []byte) (*State, error) {
	return Decode(bytes.NewReader(data))
}

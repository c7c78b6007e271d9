package shardsource

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Big-endian, length-prefixed primitives shared by the split and enumerator
// state serializers. The layout must stay byte-compatible with state written
// by earlier serializer versions, so strings are framed as a u16 byte length
// followed by UTF-8 bytes.

type wireWriter struct {
	buf bytes.Buffer
}

func (w *wireWriter) writeUTF(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string of %d bytes exceeds wire limit", len(s))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	w.buf.Write(lenBuf[:])
	w.buf.WriteString(s)
	return nil
}

func (w *wireWriter) writeBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *wireWriter) writeInt32(n int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	w.buf.Write(b[:])
}

func (w *wireWriter) writeInt64(n int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	w.buf.Write(b[:])
}

func (w *wireWriter) writeBytes(p []byte) {
	w.writeInt32(int32(len(p)))
	w.buf.Write(p)
}

func (w *wireWriter) bytes() []byte {
	return w.buf.Bytes()
}

type wireReader struct {
	data []byte
	pos  int
}

func (r *wireReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("truncated payload: need %d bytes at offset %d of %d", n, r.pos, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *wireReader) readUTF() (string, error) {
	lenBytes, err := r.take(2)
	if err != nil {
		return "", err
	}
	strBytes, err := r.take(int(binary.BigEndian.Uint16(lenBytes)))
	if err != nil {
		return "", err
	}
	return string(strBytes), nil
}

func (r *wireReader) readBool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *wireReader) readInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *wireReader) readInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *wireReader) readBytes() ([]byte, error) {
	n, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative byte-slice length %d", n)
	}
	return r.take(int(n))
}

// VersionMismatchError reports a serialized payload written by a version this
// build does not understand. It is fatal: state with an unknown version must
// not be partially applied.
type VersionMismatchError struct {
	Got     int
	Current int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("cannot deserialize payload written with unsupported version %d (serializer version is %d)", e.Got, e.Current)
}

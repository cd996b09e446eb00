// Package snapshot reads and writes point-in-time dumps of cache contents
// in a compact binary format. A snapshot is a portable byte stream, so a
// memory-backed cache can be drained to disk and reloaded, or contents
// moved between backends.
//
// Layout: a 5-byte header ("STKV" + version), then one record per entry,
// then a 0xFF end marker. Each record is an optional expiry marker (0xFD +
// 8-byte big-endian unix seconds) followed by the key and value as
// length-prefixed strings. Values past a size threshold are deflated when
// that actually shrinks them.
package snapshot

import (
	"bufio"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	version = 0x01

	// markers in the length-byte position
	len6Max    = 0x3F // lengths 0..63 encode in the marker byte itself
	len14Flag  = 0x40 // 14-bit length, 6 high bits here + next byte
	len32Flag  = 0x80 // 32-bit length in the next four bytes
	compressed = 0xC3 // deflated payload, compressed + raw lengths follow

	markerExpiry = 0xFD
	markerEOF    = 0xFF

	// compressThreshold is the smallest value we bother deflating.
	compressThreshold = 64
)

var magic = []byte("STKV")

// ErrBadSnapshot reports a malformed or truncated snapshot stream.
var ErrBadSnapshot = errors.New("snapshot: malformed stream")

// Item is one cache entry in a snapshot. A nil ExpiresAt means the entry
// never expires.
type Item struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
}

// Write dumps items to w. Entries already expired at write time are
// skipped so a snapshot never resurrects dead keys.
func Write(w io.Writer, items []Item) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic); err != nil {
		return err
	}
	if err := bw.WriteByte(version); err != nil {
		return err
	}

	now := time.Now()
	for _, it := range items {
		if it.ExpiresAt != nil {
			if !it.ExpiresAt.After(now) {
				continue
			}
			if err := bw.WriteByte(markerExpiry); err != nil {
				return err
			}
			var ts [8]byte
			binary.BigEndian.PutUint64(ts[:], uint64(it.ExpiresAt.Unix()))
			if _, err := bw.Write(ts[:]); err != nil {
				return err
			}
		}
		if err := writeBlob(bw, []byte(it.Key), false); err != nil {
			return err
		}
		if err := writeBlob(bw, it.Value, true); err != nil {
			return err
		}
	}
	if err := bw.WriteByte(markerEOF); err != nil {
		return err
	}
	return bw.Flush()
}

// Read parses a snapshot stream produced by Write. Entries whose expiry
// has passed by read time are dropped.
func Read(r io.Reader) ([]Item, error) {
	br := bufio.NewReader(r)

	head := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if !bytes.Equal(head[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	if head[len(magic)] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, head[len(magic)])
	}

	var (
		items []Item
		now   = time.Now()
	)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		if b == markerEOF {
			return items, nil
		}

		var expiresAt *time.Time
		if b == markerExpiry {
			var ts [8]byte
			if _, err := io.ReadFull(br, ts[:]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
			}
			t := time.Unix(int64(binary.BigEndian.Uint64(ts[:])), 0)
			expiresAt = &t
			if b, err = br.ReadByte(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
			}
		}

		key, err := readBlob(br, b)
		if err != nil {
			return nil, err
		}
		vb, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		val, err := readBlob(br, vb)
		if err != nil {
			return nil, err
		}

		if expiresAt != nil && !expiresAt.After(now) {
			continue
		}
		items = append(items, Item{Key: string(key), Value: val, ExpiresAt: expiresAt})
	}
}

// writeBlob writes one length-prefixed byte string, deflating large values
// when allowed and profitable.
func writeBlob(w *bufio.Writer, b []byte, mayCompress bool) error {
	if mayCompress && len(b) >= compressThreshold {
		if packed, ok := deflate(b); ok {
			if err := w.WriteByte(compressed); err != nil {
				return err
			}
			if err := writeLen(w, len(packed)); err != nil {
				return err
			}
			if err := writeLen(w, len(b)); err != nil {
				return err
			}
			_, err := w.Write(packed)
			return err
		}
	}
	if err := writeLen(w, len(b)); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlob(r *bufio.Reader, first byte) ([]byte, error) {
	if first == compressed {
		clen, err := readLenFull(r)
		if err != nil {
			return nil, err
		}
		ulen, err := readLenFull(r)
		if err != nil {
			return nil, err
		}
		packed := make([]byte, clen)
		if _, err := io.ReadFull(r, packed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		return inflate(packed, ulen)
	}

	n, err := readLen(r, first)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return b, nil
}

func writeLen(w *bufio.Writer, n int) error {
	switch {
	case n <= len6Max:
		return w.WriteByte(byte(n))
	case n <= 0x3FFF:
		if err := w.WriteByte(len14Flag | byte(n>>8)); err != nil {
			return err
		}
		return w.WriteByte(byte(n))
	default:
		if err := w.WriteByte(len32Flag); err != nil {
			return err
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(n))
		_, err := w.Write(buf[:])
		return err
	}
}

// readLen decodes a length whose first byte has already been consumed.
func readLen(r *bufio.Reader, first byte) (int, error) {
	switch {
	case first <= len6Max:
		return int(first), nil
	case first&0xC0 == len14Flag:
		lo, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		return int(first&0x3F)<<8 | int(lo), nil
	case first == len32Flag:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		return int(binary.BigEndian.Uint32(buf[:])), nil
	default:
		return 0, fmt.Errorf("%w: bad length marker 0x%02X", ErrBadSnapshot, first)
	}
}

func readLenFull(r *bufio.Reader) (int, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return readLen(r, first)
}

// deflate compresses b; ok is false when compression does not shrink it.
func deflate(b []byte) ([]byte, bool) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, false
	}
	if _, err := fw.Write(b); err != nil {
		return nil, false
	}
	if err := fw.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(b) {
		return nil, false
	}
	return buf.Bytes(), true
}

func inflate(packed []byte, want int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(packed))
	defer fr.Close()
	out := make([]byte, 0, want)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if buf.Len() != want {
		return nil, fmt.Errorf("%w: inflated %d bytes, want %d", ErrBadSnapshot, buf.Len(), want)
	}
	return buf.Bytes(), nil
}

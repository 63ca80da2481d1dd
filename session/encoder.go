package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	sessionFormatVersionCurrent = 1

	flagMFAEnabled = 1 << 0
)

// Encode serializes s into the compact binary form stored in Redis. The
// session ID is the key and is not part of the payload.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}

	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	buf.WriteByte(byte(s.Kind))

	var flags byte
	if s.MFAEnabled {
		flags |= flagMFAEnabled
	}
	buf.WriteByte(flags)

	if len(s.AMR) > 255 {
		return nil, errors.New("too many amr values")
	}
	buf.WriteByte(byte(len(s.AMR)))
	for _, m := range s.AMR {
		if len(m) > 255 {
			return nil, errors.New("amr value too long")
		}
		buf.WriteByte(byte(len(m)))
		buf.WriteString(m)
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("unsupported session version")
	}

	s := &Session{}
	if s.UserID, err = readShortString(r); err != nil {
		return nil, err
	}

	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Kind = Kind(kind)

	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.MFAEnabled = flags&flagMFAEnabled != 0

	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.AMR = make([]string, 0, n)
		for i := 0; i < int(n); i++ {
			m, err := readShortString(r)
			if err != nil {
				return nil, err
			}
			s.AMR = append(s.AMR, m)
		}
	}

	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

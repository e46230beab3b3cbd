package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	sessionFormatVersionCurrent = 1

	flagRevoked     byte = 1 << 0
	flagMFAVerified byte = 1 << 1
)

// Encode serialises s without its ID; the ID is carried by the storage key.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}

	var buf bytes.Buffer
	buf.Grow(2 + 1 + len(s.OwnerID) + 2 + len(s.UserAgent) + 1 + len(s.Origin) + 16)

	buf.WriteByte(sessionFormatVersionCurrent)

	var flags byte
	if s.Revoked {
		flags |= flagRevoked
	}
	if s.MFAVerified {
		flags |= flagMFAVerified
	}
	buf.WriteByte(flags)

	if len(s.OwnerID) == 0 || len(s.OwnerID) > math.MaxUint8 {
		return nil, errors.New("invalid owner id length")
	}
	buf.WriteByte(byte(len(s.OwnerID)))
	buf.WriteString(s.OwnerID)

	if len(s.UserAgent) > math.MaxUint16 {
		return nil, errors.New("user agent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserAgent)

	if len(s.Origin) > math.MaxUint8 {
		return nil, errors.New("origin too long")
	}
	buf.WriteByte(byte(len(s.Origin)))
	buf.WriteString(s.Origin)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.Unix()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by [Encode]. The returned session has an
// empty ID.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	s := &Session{
		Revoked:     flags&flagRevoked != 0,
		MFAVerified: flags&flagMFAVerified != 0,
	}

	ownerLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	owner := make([]byte, ownerLen)
	if _, err := io.ReadFull(reader, owner); err != nil {
		return nil, err
	}
	s.OwnerID = string(owner)

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	originLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	origin := make([]byte, originLen)
	if _, err := io.ReadFull(reader, origin); err != nil {
		return nil, err
	}
	s.Origin = string(origin)

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.ExpiresAt = time.Unix(expiresAt, 0)

	if reader.Len() != 0 {
		return nil, errors.New("trailing session data")
	}

	return s, nil
}

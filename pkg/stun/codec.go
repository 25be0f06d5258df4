// Package stun implements the subset of RFC 5389 needed for binding
// discovery: encoding Binding Requests and decoding the mapped address
// out of Binding Responses.
//
// Timing, retries and transport are owned by the caller; this package is
// a pure codec.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

const (
	// MagicCookie is the fixed value carried in every STUN message header.
	MagicCookie = 0x2112A442

	// HeaderSize is the length of the STUN message header in bytes.
	HeaderSize = 20

	// TransactionIDSize is the length of a transaction ID in bytes.
	TransactionIDSize = 12

	// MaxMessageSize bounds the buffers used to receive responses.
	MaxMessageSize = 2048

	typeBindingRequest = 0x0001
	typeBindingSuccess = 0x0101
	typeBindingError   = 0x0111

	attrMappedAddress    = 0x0001
	attrErrorCode        = 0x0009
	attrXORMappedAddress = 0x0020

	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// TransactionID identifies a single request/response exchange.
type TransactionID [TransactionIDSize]byte

var (
	// ErrMalformed reports a truncated message, a bad magic cookie or an
	// attribute that does not fit its declared length.
	ErrMalformed = errors.New("stun: malformed message")

	// ErrTransactionMismatch reports a well-formed response whose
	// transaction ID does not match the request it is being checked against.
	ErrTransactionMismatch = errors.New("stun: transaction id mismatch")
)

// ErrorResponse is returned by Decode when the server answered with a
// Binding Error Response. The caller should retry with a fresh transaction.
type ErrorResponse struct {
	Code   int
	Reason string
}

func (e *ErrorResponse) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stun: error response %d", e.Code)
	}
	return fmt.Sprintf("stun: error response %d (%s)", e.Code, e.Reason)
}

// NewTransactionID returns a cryptographically random transaction ID.
func NewTransactionID() (TransactionID, error) {
	var id TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// EncodeBindingRequest produces an attribute-less Binding Request with a
// fresh transaction ID. The ID is returned for matching the response.
func EncodeBindingRequest() ([]byte, TransactionID, error) {
	id, err := NewTransactionID()
	if err != nil {
		return nil, id, err
	}
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], typeBindingRequest)
	// message length stays zero, no attributes
	binary.BigEndian.PutUint32(buf[4:8], MagicCookie)
	copy(buf[8:20], id[:])
	return buf, id, nil
}

// Decode validates a Binding Response against the transaction ID of the
// request and extracts the mapped address, preferring XOR-MAPPED-ADDRESS
// over the legacy MAPPED-ADDRESS. Unknown attributes are skipped by length.
//
// Error Responses yield *ErrorResponse, short or corrupt input yields
// ErrMalformed, and a foreign transaction ID yields ErrTransactionMismatch.
func Decode(data []byte, id TransactionID) (netip.AddrPort, error) {
	if len(data) < HeaderSize {
		return netip.AddrPort{}, ErrMalformed
	}
	if binary.BigEndian.Uint32(data[4:8]) != MagicCookie {
		return netip.AddrPort{}, ErrMalformed
	}
	if TransactionID(data[8:20]) != id {
		return netip.AddrPort{}, ErrTransactionMismatch
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	bodyLen := int(binary.BigEndian.Uint16(data[2:4]))
	if HeaderSize+bodyLen > len(data) {
		return netip.AddrPort{}, ErrMalformed
	}
	body := data[HeaderSize : HeaderSize+bodyLen]

	switch msgType {
	case typeBindingSuccess:
		return decodeSuccess(body, id)
	case typeBindingError:
		return netip.AddrPort{}, decodeError(body)
	default:
		return netip.AddrPort{}, ErrMalformed
	}
}

func decodeSuccess(body []byte, id TransactionID) (netip.AddrPort, error) {
	var mapped netip.AddrPort
	haveMapped := false

	offset := 0
	for offset+4 <= len(body) {
		attrType := binary.BigEndian.Uint16(body[offset : offset+2])
		attrLen := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))
		if offset+4+attrLen > len(body) {
			return netip.AddrPort{}, ErrMalformed
		}
		value := body[offset+4 : offset+4+attrLen]

		switch attrType {
		case attrXORMappedAddress:
			return decodeXORMapped(value, id)
		case attrMappedAddress:
			addr, err := decodeMapped(value)
			if err != nil {
				return netip.AddrPort{}, err
			}
			mapped, haveMapped = addr, true
		}

		// attributes are padded to a 4-byte boundary
		offset += 4 + (attrLen+3)&^3
	}

	if haveMapped {
		return mapped, nil
	}
	return netip.AddrPort{}, ErrMalformed
}

func decodeXORMapped(value []byte, id TransactionID) (netip.AddrPort, error) {
	if len(value) < 8 {
		return netip.AddrPort{}, ErrMalformed
	}
	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(MagicCookie>>16)

	switch value[1] {
	case familyIPv4:
		var b [4]byte
		copy(b[:], value[4:8])
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], MagicCookie)
		for i := range b {
			b[i] ^= cookie[i]
		}
		return netip.AddrPortFrom(netip.AddrFrom4(b), port), nil
	case familyIPv6:
		if len(value) < 20 {
			return netip.AddrPort{}, ErrMalformed
		}
		var b [16]byte
		copy(b[:], value[4:20])
		var key [16]byte
		binary.BigEndian.PutUint32(key[:4], MagicCookie)
		copy(key[4:], id[:])
		for i := range b {
			b[i] ^= key[i]
		}
		return netip.AddrPortFrom(netip.AddrFrom16(b), port), nil
	default:
		return netip.AddrPort{}, ErrMalformed
	}
}

func decodeMapped(value []byte) (netip.AddrPort, error) {
	if len(value) < 8 {
		return netip.AddrPort{}, ErrMalformed
	}
	port := binary.BigEndian.Uint16(value[2:4])

	switch value[1] {
	case familyIPv4:
		var b [4]byte
		copy(b[:], value[4:8])
		return netip.AddrPortFrom(netip.AddrFrom4(b), port), nil
	case familyIPv6:
		if len(value) < 20 {
			return netip.AddrPort{}, ErrMalformed
		}
		var b [16]byte
		copy(b[:], value[4:20])
		return netip.AddrPortFrom(netip.AddrFrom16(b), port), nil
	default:
		return netip.AddrPort{}, ErrMalformed
	}
}

func decodeError(body []byte) error {
	offset := 0
	for offset+4 <= len(body) {
		attrType := binary.BigEndian.Uint16(body[offset : offset+2])
		attrLen := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))
		if offset+4+attrLen > len(body) {
			return ErrMalformed
		}
		value := body[offset+4 : offset+4+attrLen]

		if attrType == attrErrorCode && attrLen >= 4 {
			class := int(value[2] & 0x07)
			number := int(value[3])
			return &ErrorResponse{
				Code:   class*100 + number,
				Reason: string(value[4:]),
			}
		}
		offset += 4 + (attrLen+3)&^3
	}
	return &ErrorResponse{}
}

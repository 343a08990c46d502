// Package wire implements the catalog service's binary command protocol:
// fixed-size NUL-padded string fields, big-endian integers, one opcode byte,
// and the reversible password transform applied at this boundary. The domain
// layer never sees any of it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command opcodes.
const (
	OpConnect         byte = 0x10
	OpAddUser         byte = 0x20
	OpRequestBook     byte = 0x30
	OpAddBook         byte = 0x40
	OpRequestReport   byte = 0x50
	OpReturnBook      byte = 0x60
	OpGetAvailability byte = 0x70
)

// Field sizes. No command exceeds MaxCommandLen bytes.
const (
	MaxCommandLen = 20
	UsernameLen   = 11
	PasswordLen   = 8
	BookNameLen   = 13
)

// Wire response tokens, sent as bare ASCII.
const (
	RespInvalidUser       = "invalid_user"
	RespInvalidPassword   = "invalid_password"
	RespLoginSuccess      = "login_success"
	RespUsernameExists    = "username_exists"
	RespUsernameAvailable = "username_available"
	RespAddUserFailed     = "add_user_failed"
	RespAddUserSuccess    = "add_user_success"
	RespAddBookError      = "add_book_error"
	RespAddBookSuccess    = "add_book_success"
	RespReqBookError      = "req_book_error"
	RespReqBookSuccess    = "req_book_success"
	RespRetBookError      = "ret_book_error"
	RespRetBookSuccess    = "ret_book_success"
	RespReqReportError    = "req_report_error"
	RespReqFilesizeError  = "req_filesize_error"
	RespReqReportSuccess  = "req_report_success"
)

var (
	ErrShortPacket  = errors.New("wire: packet too short")
	ErrFieldTooLong = errors.New("wire: field exceeds wire size")
)

// Opcode returns a packet's opcode byte.
func Opcode(pkt []byte) (byte, error) {
	if len(pkt) < 1 {
		return 0, ErrShortPacket
	}
	return pkt[0], nil
}

// EncodeConnect builds the exactly-20-byte login command.
func EncodeConnect(username, password string) ([]byte, error) {
	u, err := padField(username, UsernameLen)
	if err != nil {
		return nil, err
	}
	p, err := padField(password, PasswordLen)
	if err != nil {
		return nil, err
	}
	pkt := make([]byte, 0, 1+UsernameLen+PasswordLen)
	pkt = append(pkt, OpConnect)
	pkt = append(pkt, u...)
	return append(pkt, p...), nil
}

// DecodeConnect parses a login command. The packet must be the full 20 bytes;
// anything else is ignored upstream, so short reads are an error here.
func DecodeConnect(pkt []byte) (username, password string, err error) {
	if len(pkt) != 1+UsernameLen+PasswordLen {
		return "", "", ErrShortPacket
	}
	return trimField(pkt[1 : 1+UsernameLen]), trimField(pkt[1+UsernameLen:]), nil
}

// EncodeAddUserUsername builds the first enrollment packet.
func EncodeAddUserUsername(username string) ([]byte, error) {
	u, err := padField(username, UsernameLen)
	if err != nil {
		return nil, err
	}
	return append([]byte{OpAddUser}, u...), nil
}

// EncodeAddUserPassword builds the second enrollment packet.
func EncodeAddUserPassword(password string) ([]byte, error) {
	p, err := padField(password, PasswordLen)
	if err != nil {
		return nil, err
	}
	return append([]byte{OpAddUser}, p...), nil
}

// DecodeAddUserUsername parses the first enrollment packet.
func DecodeAddUserUsername(pkt []byte) (string, error) {
	if len(pkt) < 1+UsernameLen {
		return "", ErrShortPacket
	}
	return trimField(pkt[1 : 1+UsernameLen]), nil
}

// DecodeAddUserPassword parses the second enrollment packet.
func DecodeAddUserPassword(pkt []byte) (string, error) {
	if len(pkt) < 1+PasswordLen {
		return "", ErrShortPacket
	}
	return trimField(pkt[1 : 1+PasswordLen]), nil
}

// EncodeBookCommand builds an add/request/return command: opcode, quantity,
// book name.
func EncodeBookCommand(op byte, qty int, name string) ([]byte, error) {
	if qty < 0 || qty > 0xFFFF {
		return nil, fmt.Errorf("wire: quantity %d outside uint16", qty)
	}
	n, err := padField(name, BookNameLen)
	if err != nil {
		return nil, err
	}
	pkt := make([]byte, 3, 3+BookNameLen)
	pkt[0] = op
	binary.BigEndian.PutUint16(pkt[1:3], uint16(qty))
	return append(pkt, n...), nil
}

// DecodeBookCommand parses an add/request/return command.
func DecodeBookCommand(pkt []byte) (qty int, name string, err error) {
	if len(pkt) < 3+BookNameLen {
		return 0, "", ErrShortPacket
	}
	return int(binary.BigEndian.Uint16(pkt[1:3])), trimField(pkt[3 : 3+BookNameLen]), nil
}

// EncodeReportRequest builds the report command carrying the port the client
// listens on for the pushed report file.
func EncodeReportRequest(listenerPort int) ([]byte, error) {
	if listenerPort < 1 || listenerPort > 0xFFFF {
		return nil, fmt.Errorf("wire: port %d outside uint16", listenerPort)
	}
	pkt := make([]byte, 3)
	pkt[0] = OpRequestReport
	binary.BigEndian.PutUint16(pkt[1:3], uint16(listenerPort))
	return pkt, nil
}

// DecodeReportRequest parses the report command's listener port.
func DecodeReportRequest(pkt []byte) (int, error) {
	if len(pkt) < 3 {
		return 0, ErrShortPacket
	}
	return int(binary.BigEndian.Uint16(pkt[1:3])), nil
}

// EncodeAvailability builds the availability-report command.
func EncodeAvailability() []byte {
	return []byte{OpGetAvailability}
}

// EncodeAck builds the client's 4-byte acknowledgement of a pushed report:
// the byte count it received.
func EncodeAck(size uint32) []byte {
	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, size)
	return ack
}

// DecodeAck parses the report acknowledgement.
func DecodeAck(pkt []byte) (uint32, error) {
	if len(pkt) < 4 {
		return 0, ErrShortPacket
	}
	return binary.BigEndian.Uint32(pkt[:4]), nil
}

func padField(s string, n int) ([]byte, error) {
	if len(s) > n {
		return nil, fmt.Errorf("%w: %q into %d bytes", ErrFieldTooLong, s, n)
	}
	out := make([]byte, n)
	copy(out, s)
	return out, nil
}

func trimField(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

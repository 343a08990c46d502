// Package client speaks the catalog wire protocol for the interactive
// command line tool.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"bookden/internal/wire"
)

// reportChunk is the read size used while receiving a pushed report. A
// chunk shorter than this marks the end of the file.
const reportChunk = 1024

// ErrRegistrationAborted is returned when the server rejects the
// username before a password is ever sent.
var ErrRegistrationAborted = errors.New("client: username rejected")

// Client is one authenticated-or-not connection to the catalog server.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: 10 * time.Second}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one command packet and reads the server's token.
func (c *Client) roundTrip(pkt []byte) (string, error) {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(pkt); err != nil {
		return "", fmt.Errorf("client: send: %w", err)
	}
	return c.readToken()
}

// readToken reads one server response. Responses are a single write on the
// server side: usually a short token, at most an availability table.
func (c *Client) readToken() (string, error) {
	buf := make([]byte, 16*1024)
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("client: read response: %w", err)
	}
	return string(buf[:n]), nil
}

// Login authenticates the connection and returns the server's token.
func (c *Client) Login(username, password string) (string, error) {
	pkt, err := wire.EncodeConnect(username, string(wire.Obscure([]byte(password))))
	if err != nil {
		return "", err
	}
	return c.roundTrip(pkt)
}

// Register runs the two-packet enrollment exchange. It returns
// ErrRegistrationAborted with the server's token when the username is
// refused, otherwise the outcome of the password step.
func (c *Client) Register(username, password string) (string, error) {
	pkt, err := wire.EncodeAddUserUsername(username)
	if err != nil {
		return "", err
	}
	token, err := c.roundTrip(pkt)
	if err != nil {
		return "", err
	}
	if token != wire.RespUsernameAvailable {
		return token, ErrRegistrationAborted
	}
	pkt, err = wire.EncodeAddUserPassword(string(wire.Obscure([]byte(password))))
	if err != nil {
		return "", err
	}
	return c.roundTrip(pkt)
}

// AddBook registers qty copies of a title.
func (c *Client) AddBook(name string, qty int) (string, error) {
	pkt, err := wire.EncodeBookCommand(wire.OpAddBook, qty, name)
	if err != nil {
		return "", err
	}
	return c.roundTrip(pkt)
}

// RequestBook checks out qty copies of a title.
func (c *Client) RequestBook(name string, qty int) (string, error) {
	pkt, err := wire.EncodeBookCommand(wire.OpRequestBook, qty, name)
	if err != nil {
		return "", err
	}
	return c.roundTrip(pkt)
}

// ReturnBook hands back qty copies of a title.
func (c *Client) ReturnBook(name string, qty int) (string, error) {
	pkt, err := wire.EncodeBookCommand(wire.OpReturnBook, qty, name)
	if err != nil {
		return "", err
	}
	return c.roundTrip(pkt)
}

// Availability fetches the rendered availability table.
func (c *Client) Availability() (string, error) {
	return c.roundTrip(wire.EncodeAvailability())
}

// FetchReport asks the server for the full inventory report. The server
// pushes the file over a second connection to a listener we open on
// listenPort; we acknowledge with the byte count received and read the
// final status token on that same connection. On success the report is
// written under destDir and its path returned alongside the token.
func (c *Client) FetchReport(listenPort int, destDir string) (string, string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return "", "", fmt.Errorf("client: report listener: %w", err)
	}
	defer ln.Close()

	pkt, err := wire.EncodeReportRequest(listenPort)
	if err != nil {
		return "", "", err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(pkt); err != nil {
		return "", "", fmt.Errorf("client: send report request: %w", err)
	}

	if d, ok := ln.(*net.TCPListener); ok {
		d.SetDeadline(time.Now().Add(30 * time.Second))
	}
	back, err := ln.Accept()
	if err != nil {
		return "", "", fmt.Errorf("client: accept report push: %w", err)
	}
	defer back.Close()

	data, err := receiveReport(back)
	if err != nil {
		return "", "", err
	}
	if _, err := back.Write(wire.EncodeAck(uint32(len(data)))); err != nil {
		return "", "", fmt.Errorf("client: send ack: %w", err)
	}
	back.SetReadDeadline(time.Now().Add(c.timeout))
	tokBuf := make([]byte, 64)
	n, err := back.Read(tokBuf)
	if err != nil {
		return "", "", fmt.Errorf("client: read report status: %w", err)
	}
	token := string(tokBuf[:n])
	if token != wire.RespReqReportSuccess {
		return "", token, nil
	}

	name := fmt.Sprintf("inventory_report_%s.txt", time.Now().Format("20060102_150405"))
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", token, fmt.Errorf("client: save report: %w", err)
	}
	return path, token, nil
}

// receiveReport reads the pushed file. A short chunk ends the stream;
// a stall after the first chunk ends it too.
func receiveReport(back net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, reportChunk)
	for {
		back.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := back.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) && len(data) > 0 {
				return data, nil
			}
			return nil, fmt.Errorf("client: receive report: %w", err)
		}
		if n < reportChunk {
			return data, nil
		}
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookden"
	"bookden/internal/wire"
)

// readPoll is how often the read loop wakes to check for shutdown and
// enrollment expiry.
const readPoll = 500 * time.Millisecond

type enrollState int

const (
	enrollIdle enrollState = iota
	enrollAwaitingPassword
)

// session serves one client connection. It owns its own catalog and
// directory handles; login state therefore lives with the connection.
type session struct {
	id   string
	conn net.Conn
	cfg  *Config
	log  *zap.Logger

	catalog *bookden.Catalog
	dir     *bookden.Directory

	enroll          enrollState
	pendingUsername string
	enrollDeadline  time.Time
}

func newSession(conn net.Conn, cfg *Config, log *zap.Logger) (*session, error) {
	id := uuid.NewString()
	log = log.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String()))
	cat, err := bookden.OpenCatalog(cfg.DataDir, bookden.WithLogger(log))
	if err != nil {
		return nil, err
	}
	dir, err := bookden.OpenDirectory(cfg.DataDir, bookden.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &session{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		log:     log,
		catalog: cat,
		dir:     dir,
	}, nil
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	s.log.Info("session opened")
	defer s.log.Info("session closed")

	buf := make([]byte, wire.MaxCommandLen)
	for {
		if ctx.Err() != nil {
			return
		}
		s.expireEnrollment()

		s.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, err := s.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}
		s.dispatch(buf[:n])
	}
}

// expireEnrollment abandons a username that never got its password.
func (s *session) expireEnrollment() {
	if s.enroll == enrollAwaitingPassword && time.Now().After(s.enrollDeadline) {
		s.log.Debug("enrollment timed out", zap.String("username", s.pendingUsername))
		s.enroll = enrollIdle
		s.pendingUsername = ""
	}
}

func (s *session) dispatch(pkt []byte) {
	op, err := wire.Opcode(pkt)
	if err != nil {
		return
	}
	if op != wire.OpConnect && !s.dir.Authenticated() {
		// Everything but login is dropped until the client authenticates.
		s.log.Debug("dropping pre-auth command", zap.Uint8("opcode", op))
		return
	}
	switch op {
	case wire.OpConnect:
		s.handleConnect(pkt)
	case wire.OpAddUser:
		s.handleAddUser(pkt)
	case wire.OpAddBook:
		s.handleAddBook(pkt)
	case wire.OpRequestBook:
		s.handleRequestBook(pkt)
	case wire.OpReturnBook:
		s.handleReturnBook(pkt)
	case wire.OpGetAvailability:
		s.handleGetAvailability()
	case wire.OpRequestReport:
		s.handleRequestReport(pkt)
	default:
		s.log.Debug("unknown opcode", zap.Uint8("opcode", op))
	}
}

func (s *session) respond(token string) {
	if _, err := s.conn.Write([]byte(token)); err != nil {
		s.log.Debug("write failed", zap.Error(err))
	}
}

func (s *session) handleConnect(pkt []byte) {
	username, password, err := wire.DecodeConnect(pkt)
	if err != nil {
		s.log.Debug("malformed connect", zap.Error(err))
		return
	}
	password = string(wire.Obscure([]byte(password)))
	err = s.dir.Login(username, password)
	switch {
	case errors.Is(err, bookden.ErrNotFound):
		s.respond(wire.RespInvalidUser)
	case errors.Is(err, bookden.ErrBadCredentials):
		s.respond(wire.RespInvalidPassword)
	case err != nil:
		s.log.Error("login failed", zap.Error(err))
		s.respond(wire.RespInvalidUser)
	default:
		s.log.Info("user logged in", zap.String("username", username))
		s.respond(wire.RespLoginSuccess)
	}
}

// handleAddUser runs the two-packet enrollment exchange. The first
// packet carries the username, the second the password; a session only
// accepts a password while one username is pending.
func (s *session) handleAddUser(pkt []byte) {
	if s.enroll == enrollIdle {
		username, err := wire.DecodeAddUserUsername(pkt)
		if err != nil || username == "" {
			s.respond(wire.RespAddUserFailed)
			return
		}
		exists, err := s.dir.Exists(username)
		if err != nil {
			s.log.Error("username check failed", zap.Error(err))
			s.respond(wire.RespAddUserFailed)
			return
		}
		if exists {
			s.respond(wire.RespUsernameExists)
			return
		}
		s.pendingUsername = username
		s.enroll = enrollAwaitingPassword
		s.enrollDeadline = time.Now().Add(s.cfg.EnrollTimeout())
		s.respond(wire.RespUsernameAvailable)
		return
	}

	password, err := wire.DecodeAddUserPassword(pkt)
	username := s.pendingUsername
	s.enroll = enrollIdle
	s.pendingUsername = ""
	if err != nil || password == "" {
		s.respond(wire.RespAddUserFailed)
		return
	}
	password = string(wire.Obscure([]byte(password)))
	if err := s.dir.Register(username, password); err != nil {
		s.log.Error("register failed", zap.String("username", username), zap.Error(err))
		s.respond(wire.RespAddUserFailed)
		return
	}
	s.log.Info("user registered", zap.String("username", username))
	s.respond(wire.RespAddUserSuccess)
}

func (s *session) handleAddBook(pkt []byte) {
	qty, name, err := wire.DecodeBookCommand(pkt)
	if err != nil {
		s.respond(wire.RespAddBookError)
		return
	}
	if err := s.catalog.AddBook(name, qty); err != nil {
		s.log.Warn("add book failed", zap.String("book", name), zap.Error(err))
		s.respond(wire.RespAddBookError)
		return
	}
	s.respond(wire.RespAddBookSuccess)
}

func (s *session) handleRequestBook(pkt []byte) {
	qty, name, err := wire.DecodeBookCommand(pkt)
	if err != nil {
		s.respond(wire.RespReqBookError)
		return
	}
	if err := s.catalog.RequestBook(name, s.dir.UserID(), qty); err != nil {
		s.log.Warn("request failed", zap.String("book", name), zap.Int("qty", qty), zap.Error(err))
		s.respond(wire.RespReqBookError)
		return
	}
	s.respond(wire.RespReqBookSuccess)
}

func (s *session) handleReturnBook(pkt []byte) {
	qty, name, err := wire.DecodeBookCommand(pkt)
	if err != nil {
		s.respond(wire.RespRetBookError)
		return
	}
	if err := s.catalog.ReturnBook(name, s.dir.UserID(), qty); err != nil {
		s.log.Warn("return failed", zap.String("book", name), zap.Int("qty", qty), zap.Error(err))
		s.respond(wire.RespRetBookError)
		return
	}
	s.respond(wire.RespRetBookSuccess)
}

func (s *session) handleGetAvailability() {
	report, err := s.catalog.AvailabilityReport()
	if err != nil {
		s.log.Error("availability report failed", zap.Error(err))
		return
	}
	s.respond(report)
}

// handleRequestReport renders the inventory report to disk, then pushes
// it over a second connection back to a listener the client opened. The
// client acknowledges with the byte count it received; the final status
// token travels on that same back-channel.
func (s *session) handleRequestReport(pkt []byte) {
	port, err := wire.DecodeReportRequest(pkt)
	if err != nil {
		s.log.Debug("malformed report request", zap.Error(err))
		return
	}

	path, size, err := s.writeReportFile()
	if err != nil {
		s.log.Error("report generation failed", zap.Error(err))
		return
	}

	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		s.log.Error("bad remote address", zap.Error(err))
		return
	}
	back, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), 10*time.Second)
	if err != nil {
		s.log.Warn("report back-channel dial failed",
			zap.String("host", host), zap.Int("port", port), zap.Error(err))
		return
	}
	defer back.Close()

	token := s.pushReport(back, path, size)
	if _, err := back.Write([]byte(token)); err != nil {
		s.log.Debug("report status write failed", zap.Error(err))
	}
	s.log.Info("report delivered", zap.String("path", path), zap.String("status", token))
}

// pushReport streams the report file and checks the client's size ack.
func (s *session) pushReport(back net.Conn, path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return wire.RespReqReportError
	}
	defer f.Close()

	back.SetDeadline(time.Now().Add(30 * time.Second))
	if _, err := io.Copy(back, f); err != nil {
		return wire.RespReqReportError
	}
	ackBuf := make([]byte, 4)
	if _, err := io.ReadFull(back, ackBuf); err != nil {
		return wire.RespReqReportError
	}
	ack, err := wire.DecodeAck(ackBuf)
	if err != nil {
		return wire.RespReqReportError
	}
	if int64(ack) != size {
		return wire.RespReqFilesizeError
	}
	return wire.RespReqReportSuccess
}

func (s *session) writeReportFile() (string, int64, error) {
	name := fmt.Sprintf("inventory_report_%d_%s.txt",
		s.dir.UserID(), time.Now().Format("20060102_150405"))
	path := filepath.Join(s.cfg.ReportsDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	if err := s.catalog.WriteInventoryReport(f); err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, fi.Size(), nil
}

package server_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"bookden"
	"bookden/internal/client"
	"bookden/internal/server"
	"bookden/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startServer brings up a full server on a loopback port with one seeded
// account, alice/wonder, and tears it down when the test ends.
func startServer(t *testing.T) string {
	return startServerWithEnrollTimeout(t, 5)
}

func startServerWithEnrollTimeout(t *testing.T, enrollSeconds int) string {
	t.Helper()
	base := t.TempDir()
	cfg := &server.Config{
		ListenAddr:           "127.0.0.1:0",
		DataDir:              filepath.Join(base, "data"),
		ReportsDir:           filepath.Join(base, "reports"),
		EnrollTimeoutSeconds: enrollSeconds,
	}
	srv := server.New(cfg, zap.NewNop())
	require.NoError(t, srv.Listen())

	dir, err := bookden.OpenDirectory(cfg.DataDir)
	require.NoError(t, err)
	require.NoError(t, dir.Register("alice", "wonder"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return srv.Addr().String()
}

func login(t *testing.T, addr, username, password string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	token, err := c.Login(username, password)
	require.NoError(t, err)
	require.Equal(t, wire.RespLoginSuccess, token)
	return c
}

func TestLoginFlow(t *testing.T) {
	addr := startServer(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	token, err := c.Login("nobody", "wonder")
	require.NoError(t, err)
	assert.Equal(t, wire.RespInvalidUser, token)

	token, err = c.Login("alice", "wrong")
	require.NoError(t, err)
	assert.Equal(t, wire.RespInvalidPassword, token)

	token, err = c.Login("alice", "wonder")
	require.NoError(t, err)
	assert.Equal(t, wire.RespLoginSuccess, token)
}

func TestEnrollment(t *testing.T) {
	addr := startServer(t)
	c := login(t, addr, "alice", "wonder")

	token, err := c.Register("bob", "builder")
	require.NoError(t, err)
	assert.Equal(t, wire.RespAddUserSuccess, token)

	// The new account can log in on its own connection.
	login(t, addr, "bob", "builder")

	token, err = c.Register("bob", "again")
	assert.ErrorIs(t, err, client.ErrRegistrationAborted)
	assert.Equal(t, wire.RespUsernameExists, token)
}

func TestEnrollmentTimeout(t *testing.T) {
	addr := startServerWithEnrollTimeout(t, 1)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	pkt, err := wire.EncodeConnect("alice", string(wire.Obscure([]byte("wonder"))))
	require.NoError(t, err)
	require.Equal(t, wire.RespLoginSuccess, rawExchange(t, conn, pkt))

	pkt, err = wire.EncodeAddUserUsername("carol")
	require.NoError(t, err)
	require.Equal(t, wire.RespUsernameAvailable, rawExchange(t, conn, pkt))

	// Let the pending username expire; the next add-user packet is then
	// read as a fresh (and here too short) username, not carol's password.
	time.Sleep(2 * time.Second)
	pkt, err = wire.EncodeAddUserPassword("builder")
	require.NoError(t, err)
	assert.Equal(t, wire.RespAddUserFailed, rawExchange(t, conn, pkt))
}

func rawExchange(t *testing.T, conn net.Conn, pkt []byte) string {
	t.Helper()
	_, err := conn.Write(pkt)
	require.NoError(t, err)
	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestBookFlow(t *testing.T) {
	addr := startServer(t)
	c := login(t, addr, "alice", "wonder")

	token, err := c.AddBook("Dune", 10)
	require.NoError(t, err)
	assert.Equal(t, wire.RespAddBookSuccess, token)

	token, err = c.RequestBook("Dune", 4)
	require.NoError(t, err)
	assert.Equal(t, wire.RespReqBookSuccess, token)

	token, err = c.RequestBook("Dune", 7)
	require.NoError(t, err)
	assert.Equal(t, wire.RespReqBookError, token)

	token, err = c.RequestBook("Hyperion", 1)
	require.NoError(t, err)
	assert.Equal(t, wire.RespReqBookError, token)

	token, err = c.ReturnBook("Dune", 4)
	require.NoError(t, err)
	assert.Equal(t, wire.RespRetBookSuccess, token)

	token, err = c.ReturnBook("Dune", 1)
	require.NoError(t, err)
	assert.Equal(t, wire.RespRetBookError, token)

	report, err := c.Availability()
	require.NoError(t, err)
	assert.Contains(t, report, "Dune")
	assert.Contains(t, report, "10")
}

func TestReportDelivery(t *testing.T) {
	addr := startServer(t)
	c := login(t, addr, "alice", "wonder")

	token, err := c.AddBook("Dune", 10)
	require.NoError(t, err)
	require.Equal(t, wire.RespAddBookSuccess, token)
	token, err = c.RequestBook("Dune", 3)
	require.NoError(t, err)
	require.Equal(t, wire.RespReqBookSuccess, token)

	dest := t.TempDir()
	path, token, err := c.FetchReport(freePort(t), dest)
	require.NoError(t, err)
	assert.Equal(t, wire.RespReqReportSuccess, token)
	require.NotEmpty(t, path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "BOOK NAME")
	assert.Contains(t, string(b), "Dune")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

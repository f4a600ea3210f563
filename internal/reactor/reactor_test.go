package reactor

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/voltaic/internal/asynclog"
	"github.com/yourusername/voltaic/internal/auth"
	"github.com/yourusername/voltaic/internal/config"
)

func startTestReactor(t *testing.T, port int) {
	t.Helper()
	cfg := config.Default()
	cfg.Port = port
	cfg.TimeoutMS = 60000
	cfg.ResourceDir = "testdata/resources"
	cfg.TrigMode = config.TrigListenLevelConnLevel

	logDir := t.TempDir()
	logger, err := asynclog.Open(asynclog.LevelInfo, logDir, ".log", 256)
	require.NoError(t, err)

	backend := auth.NewFakeBackend(nil)
	r, err := New(cfg, backend, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		logger.Close()
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the reactor goroutine a moment to enter epoll_wait before the
	// test starts dialing.
	time.Sleep(20 * time.Millisecond)
}

func TestReactorServesIndex(t *testing.T) {
	const port = 19081
	startTestReactor(t, port)

	c, err := net.Dial("tcp", "127.0.0.1:19081")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "HTTP/1.1 200 OK")
	require.Contains(t, string(buf[:n]), "<html>hi</html>")
}

func TestReactorClosesOnNotFound(t *testing.T) {
	const port = 19082
	startTestReactor(t, port)

	c, err := net.Dial("tcp", "127.0.0.1:19082")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "HTTP/1.1 404 Not Found")

	// Connection: close means the server closes its end after the write.
	n, err = c.Read(buf)
	if err != io.EOF {
		require.Equal(t, 0, n)
	}
}

// TestReactorHandlesManyConcurrentClients drives a burst of simultaneous
// requests through the reactor so worker-goroutine completions race the
// reactor goroutine's accept/timer-driven table mutations. Every
// fdToHdl/slab/epoll mutation staying on the reactor goroutine (workers
// only report results through the wake channel) is what keeps this
// race-free under the race detector.
func TestReactorHandlesManyConcurrentClients(t *testing.T) {
	const port = 19083
	startTestReactor(t, port)

	const clients = 64
	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		go func() {
			defer wg.Done()
			c, err := net.Dial("tcp", "127.0.0.1:19083")
			if err != nil {
				return
			}
			defer c.Close()
			c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			buf := make([]byte, 4096)
			n, err := c.Read(buf)
			if err == nil {
				require.Contains(t, string(buf[:n]), "HTTP/1.1 200 OK")
			}
		}()
	}
	wg.Wait()
}

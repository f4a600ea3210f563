package httpproto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/voltaic/internal/auth"
	"github.com/yourusername/voltaic/internal/buffer"
)

func TestParseSimpleGet(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	r := New()
	done, err := r.Parse(context.Background(), buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "GET", r.Method)
	require.Equal(t, "/index.html", r.Path)
	require.Equal(t, "1.1", r.Version)
	require.Equal(t, "x", r.Headers["Host"])
}

func TestParseIsResumableAcrossByteBoundary(t *testing.T) {
	full := "GET /welcome HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"

	for split := 0; split <= len(full); split++ {
		buf := buffer.New(64)
		buf.AppendString(full[:split])

		r := New()
		done, err := r.Parse(context.Background(), buf, nil)
		require.NoError(t, err)

		if !done {
			buf.AppendString(full[split:])
			done, err = r.Parse(context.Background(), buf, nil)
			require.NoError(t, err)
		}
		require.True(t, done, "split at %d", split)
		require.Equal(t, "GET", r.Method)
		require.Equal(t, "/welcome.html", r.Path)
		require.True(t, r.IsKeepAlive())
	}
}

func TestParseBadRequestLine(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("NOT A REQUEST LINE AT ALL\r\n")

	r := New()
	_, err := r.Parse(context.Background(), buf, nil)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestParseFormURLEncodedLoginSuccess(t *testing.T) {
	body := "username=alice&password=s3cret"
	req := "POST /login.html HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n" +
		"\r\n" + body

	buf := buffer.New(64)
	buf.AppendString(req)

	backend := auth.NewFakeBackend(map[string]string{"alice": "s3cret"})
	r := New()
	done, err := r.Parse(context.Background(), buf, backend)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/welcome.html", r.Path)
}

func TestParseFormURLEncodedLoginFailure(t *testing.T) {
	body := "username=alice&password=wrong"
	req := "POST /login.html HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n" +
		"\r\n" + body

	buf := buffer.New(64)
	buf.AppendString(req)

	backend := auth.NewFakeBackend(map[string]string{"alice": "s3cret"})
	r := New()
	done, err := r.Parse(context.Background(), buf, backend)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/error.html", r.Path)
}

func TestParseFormURLEncodedNoContentLengthNoTrailingCRLF(t *testing.T) {
	req := "POST /login.html HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" +
		"username=alice&password=s3cret"

	buf := buffer.New(64)
	buf.AppendString(req)

	backend := auth.NewFakeBackend(map[string]string{"alice": "s3cret"})
	r := New()
	done, err := r.Parse(context.Background(), buf, backend)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/welcome.html", r.Path)
}

func TestDecodeFormValuePercentAndPlus(t *testing.T) {
	require.Equal(t, "a b+c", decodeFormValue("a+b%2Bc"))
	require.Equal(t, "hello", decodeFormValue("hello"))
}

func TestParseFormURLEncodedSplitsOnAmpAndEq(t *testing.T) {
	got := parseFormURLEncoded("a=1&b=2&c=")
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, got)
}

func TestResetAllowsReuseForKeepAlive(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("GET /index HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	r := New()
	done, err := r.Parse(context.Background(), buf, nil)
	require.NoError(t, err)
	require.True(t, done)

	r.Reset()
	buf.AppendString("GET /login HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	done, err = r.Parse(context.Background(), buf, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "/login.html", r.Path)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

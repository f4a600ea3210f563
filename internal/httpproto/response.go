package httpproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/voltaic/internal/buffer"
	"github.com/yourusername/voltaic/internal/mmap"
)

// Status codes this server ever emits, per spec.md §6.
const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusForbidden  = 403
	StatusNotFound   = 404
)

var codeStatus = map[int]string{
	StatusOK:         "OK",
	StatusBadRequest: "Bad Request",
	StatusForbidden:  "Forbidden",
	StatusNotFound:   "Not Found",
}

// codePath maps an error status to its canonical error page, per
// spec.md §4.6 step 2.
var codePath = map[int]string{
	StatusBadRequest: "/400.html",
	StatusForbidden:  "/403.html",
	StatusNotFound:   "/404.html",
}

var suffixType = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".txt":  "text/plain",
	".xml":  "text/xml",
}

const defaultMIME = "text/plain"

// Response builds the status line, headers, and mmap-backed body for
// one reply, per spec.md §4.6. A zero Response is not usable; build one
// with NewResponse.
type Response struct {
	Code        int
	KeepAlive   bool
	SrcDir      string
	Path        string
	Mapping     *mmap.Mapping
	inlineError []byte
}

// NewResponse stats srcDir+path to resolve codeHint (pass -1 to let the
// stat decide 200/403/404), remapping to the canonical error page when
// the resolved code is an error, exactly as spec.md §4.6 steps 1-2
// describe.
func NewResponse(srcDir, path string, keepAlive bool, codeHint int) *Response {
	r := &Response{KeepAlive: keepAlive, SrcDir: srcDir, Path: path}
	r.Code = r.resolveCode(codeHint)
	if _, isError := codePath[r.Code]; isError {
		r.Path = codePath[r.Code]
	}
	return r
}

func (r *Response) resolveCode(codeHint int) int {
	if codeHint >= 0 {
		return codeHint
	}
	full := filepath.Join(r.SrcDir, r.Path)
	info, err := os.Stat(full)
	if err != nil {
		return StatusNotFound
	}
	if info.IsDir() {
		return StatusForbidden
	}
	if info.Mode().Perm()&0o044 == 0 {
		return StatusForbidden
	}
	return StatusOK
}

// MakeResponse writes the status line and headers into buff and opens
// the mmap body, matching spec.md §4.6 step 3-4. On mmap failure an
// inline error body is produced instead and Mapping is left nil.
func (r *Response) MakeResponse(buff *buffer.Buffer) error {
	full := filepath.Join(r.SrcDir, r.Path)
	info, statErr := os.Stat(full)
	if statErr != nil {
		r.Code = StatusNotFound
		r.Path = codePath[StatusNotFound]
		full = filepath.Join(r.SrcDir, r.Path)
		info, statErr = os.Stat(full)
	}

	var size int64
	if statErr == nil {
		size = info.Size()
	}

	if statErr == nil {
		f, err := os.Open(full)
		if err == nil {
			m, mapErr := mmap.Map(f, size)
			f.Close()
			if mapErr == nil {
				r.Mapping = m
			} else {
				r.setInlineError()
				size = int64(len(r.inlineError))
			}
		} else {
			r.setInlineError()
			size = int64(len(r.inlineError))
		}
	} else {
		r.setInlineError()
		size = int64(len(r.inlineError))
	}

	r.addStateLine(buff)
	r.addHeader(buff, size)
	return nil
}

func (r *Response) setInlineError() {
	r.inlineError = r.errorContent(fmt.Sprintf("%d: %s", r.Code, r.reason()))
}

func (r *Response) reason() string {
	if s, ok := codeStatus[r.Code]; ok {
		return s
	}
	return "Error"
}

func (r *Response) addStateLine(buff *buffer.Buffer) {
	buff.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Code, r.reason()))
}

func (r *Response) addHeader(buff *buffer.Buffer, contentLength int64) {
	if r.KeepAlive {
		buff.AppendString("Connection: keep-alive\r\n")
		buff.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buff.AppendString("Connection: close\r\n")
	}
	buff.AppendString(fmt.Sprintf("Content-type: %s\r\n", r.fileType()))
	buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", contentLength))
}

func (r *Response) fileType() string {
	ext := strings.ToLower(filepath.Ext(r.Path))
	if mime, ok := suffixType[ext]; ok {
		return mime
	}
	return defaultMIME
}

// errorContent renders an inline HTML error body, used when mmap fails
// or no error page file is present on disk.
func (r *Response) errorContent(message string) []byte {
	body := fmt.Sprintf(
		"<html><title>Error</title><body bgcolor=\"ffffff\">%d : %s\n<p>%s</p><hr><em>WebServer</em></body></html>",
		r.Code, r.reason(), message,
	)
	return []byte(body)
}

// Body returns the bytes to gather-write after the headers: either the
// mmap'd file, or the inline error body when mapping failed.
func (r *Response) Body() []byte {
	if r.Mapping != nil {
		return r.Mapping.Bytes()
	}
	return r.inlineError
}

// Close releases the mmap mapping, if any.
func (r *Response) Close() error {
	if r.Mapping != nil {
		return r.Mapping.Close()
	}
	return nil
}

package observe

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// Preview is the head of a body stream captured for logging.
type Preview struct {
	Data []byte
	// Size is the total body size, or -1 when unknown.
	Size int64
	// Complete is true when Data holds the whole body.
	Complete bool
}

func (p Preview) sizeString() string {
	switch {
	case p.Complete:
		return strconv.Itoa(len(p.Data))
	case p.Size >= 0:
		return strconv.FormatInt(p.Size, 10)
	default:
		return ">=" + strconv.Itoa(len(p.Data))
	}
}

// Peek reads at most limit+1 bytes from body so the formatter can tell a body
// of exactly limit bytes from a longer one. The returned ReadCloser replays the
// peeked bytes followed by the unread remainder, so the stream is consumed
// once. size is the declared length, or -1 when unknown.
func Peek(body io.ReadCloser, limit int, size int64) (Preview, io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return Preview{Size: 0, Complete: true}, body, nil
	}

	buf := make([]byte, limit+1)
	n, err := readHead(body, buf)
	buf = buf[:n]

	switch {
	case errors.Is(err, io.EOF):
		return Preview{Data: buf, Size: int64(n), Complete: true}, replay(buf, body, nil), nil
	case err != nil:
		return Preview{Data: buf, Size: size}, replay(buf, body, err), err
	}
	return Preview{Data: buf, Size: size}, replay(buf, body, nil), nil
}

// readHead fills buf from r. Only a clean io.EOF marks the end of the body;
// any other error, io.ErrUnexpectedEOF from a short upstream body included,
// is returned as is.
func readHead(r io.Reader, buf []byte) (int, error) {
	var n int
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// replay stitches the peeked head back in front of the remaining stream. When
// the peek itself failed the error is surfaced after the head bytes.
func replay(head []byte, rest io.ReadCloser, err error) io.ReadCloser {
	var tail io.Reader = rest
	if err != nil {
		tail = errReader{err}
	}
	return &replayBody{Reader: io.MultiReader(bytes.NewReader(head), tail), closer: rest}
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (r *replayBody) Close() error { return r.closer.Close() }

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

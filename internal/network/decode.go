package network

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is advertised on every request. The transport does not
// decompress on its own once the header is set explicitly.
const AcceptEncoding = "gzip, deflate, zstd"

// decodeBody wraps r according to a Content-Encoding value.
func decodeBody(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return emptyOnEOF(err)
		}
		return gz, nil
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return emptyOnEOF(err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// Bodiless responses (HEAD, 204) may still carry Content-Encoding.
func emptyOnEOF(err error) (io.ReadCloser, error) {
	if errors.Is(err, io.EOF) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return nil, err
}

// readBody decodes and reads at most limit bytes.
func readBody(h http.Header, body io.Reader, limit int64) ([]byte, error) {
	dec, err := decodeBody(h.Get("Content-Encoding"), body)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// mimeType prefers the declared Content-Type and sniffs the body otherwise.
func mimeType(h http.Header, body []byte) string {
	if ct := h.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	if len(body) == 0 {
		return ""
	}
	mt, _, _ := strings.Cut(mimetype.Detect(body).String(), ";")
	return strings.TrimSpace(mt)
}

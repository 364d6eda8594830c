package httpclient

import (
	"bytes"
	"io"
)

// readBody keeps at most limit bytes of r (all of it when limit <= 0) and
// drains the rest so the connection can be reused. total counts every byte
// read.
func readBody(r io.Reader, limit int64) (body []byte, total int64, truncated bool, err error) {
	if limit <= 0 {
		body, err = io.ReadAll(r)
		return body, int64(len(body)), false, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit))
	total = n
	if err != nil {
		return buf.Bytes(), total, false, err
	}
	rest, err := io.Copy(io.Discard, r)
	total += rest
	return buf.Bytes(), total, rest > 0, err
}

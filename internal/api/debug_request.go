package api

import (
	"bytes"
	"io"
	"net/http"
)

// maxBodyBytes bounds request bodies read into memory.
const maxBodyBytes = 1 << 20

// captureBody reads the body and replaces it so it can be decoded again.
func captureBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

package envelope

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// UploadFramedType is the request content type of an upload whose body starts
// with a base64 header line.
const UploadFramedType = "application/x-clipshare-upload"

// UploadHeader describes the body that follows it. Token is only read from
// framed HTTP uploads, where it may stand in for the Authorization header.
type UploadHeader struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// IsClipboard reports whether the body is a clipboard paste.
func (h UploadHeader) IsClipboard() bool { return h.Type == ClipboardType }

// WriteUploadHeader writes h as one base64 line.
func WriteUploadHeader(w io.Writer, h UploadHeader) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, base64.StdEncoding.EncodeToString(b)+"\n")
	return err
}

// ReadUploadHeader consumes the header line from r, leaving r at the body.
func ReadUploadHeader(r *bufio.Reader) (UploadHeader, error) {
	var h UploadHeader
	line, err := r.ReadString('\n')
	if err != nil {
		return h, fmt.Errorf("read upload header: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return h, &DecodeError{Reason: "upload header is not base64", Err: err}
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, &DecodeError{Reason: "malformed upload header", Err: err}
	}
	return h, nil
}

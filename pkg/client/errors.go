package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clipshare: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("clipshare: %d %s", e.Status, e.Message)
}

// checkResponse turns a response with an unexpected status into an
// *APIError and closes its body.
func checkResponse(resp *http.Response, want ...int) error {
	for _, w := range want {
		if resp.StatusCode == w {
			return nil
		}
	}
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, &body) != nil {
		body.Error = string(b)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

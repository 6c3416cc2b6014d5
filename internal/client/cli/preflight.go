package cli

import (
	"fmt"
	"net/http"
	"time"
)

// probeLocalServer sends HEAD / to the local target. Any HTTP response,
// whatever its status, means something is listening.
func probeLocalServer(port int, timeout time.Duration) error {
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Head(fmt.Sprintf("http://localhost:%d/", port))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

package fanout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxDrainSize caps how much of a webhook response body is read before the
// connection is released for reuse.
const maxDrainSize = 64 * 1024

// deliverHTTP POSTs the payload as JSON. A 4xx/5xx response is a completed
// delivery judged by the acceptance predicate, never a transport error;
// only timeouts and connection failures populate Error.
func (d *Dispatcher) deliverHTTP(ctx context.Context, target string, payload []byte) Delivery {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Delivery{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Delivery{Error: err.Error()}
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize))

	return Delivery{
		OK:         d.accept(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
}

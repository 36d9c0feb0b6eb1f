package upstream

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"gemini-oauth-proxy/internal/constants"
)

// Chunk is one line of upstream SSE data, or a terminal error/EOF signal.
type Chunk struct {
	Data []byte
	Err  error
	Done bool
}

// BridgeSSE reads newline-framed `data: <json>` lines from upstream (this
// is not strict SSE framing — just data: lines separated by newlines, per
// spec §4.4) and forwards each as a Chunk on the returned channel, bounded
// to constants.SSEChannelCapacity so a slow client can't make the reader
// buffer unboundedly. Closing ctx aborts the upstream read within one
// read-call.
func BridgeSSE(ctx context.Context, body io.ReadCloser) <-chan Chunk {
	out := make(chan Chunk, constants.SSEChannelCapacity)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, constants.SSEScannerInitialBuffer), constants.SSEScannerMaxBuffer)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if len(data) == 0 {
				continue
			}

			select {
			case out <- Chunk{Data: append([]byte(nil), data...)}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return out
}

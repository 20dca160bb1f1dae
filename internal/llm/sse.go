package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseDone is the OpenAI-style end-of-stream sentinel payload.
const sseDone = "[DONE]"

// readDataLines consumes an SSE stream line by line and hands each
// data payload to handle. It returns when the stream ends, when handle
// reports completion, or on a read error.
//
// Lines are split on '\n' at the byte level, so a multi-byte UTF-8
// sequence straddling two network chunks is reassembled by the buffered
// reader before it is ever interpreted as text. A trailing payload with
// no final newline is processed once at EOF rather than dropped.
func readDataLines(body io.Reader, handle func(payload string) (done bool)) error {
	r := bufio.NewReaderSize(body, 64*1024)

	for {
		line, err := r.ReadString('\n')

		if line != "" {
			if processLine(line, handle) {
				return nil
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// processLine applies the per-line SSE rules: blank lines and comment
// lines are skipped, "data:" payloads are forwarded, and the [DONE]
// sentinel terminates the stream. Returns true when the stream is done.
func processLine(line string, handle func(payload string) (done bool)) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	if !strings.HasPrefix(line, "data:") {
		// "event:" and other SSE fields carry nothing the payload
		// parsers need; Anthropic repeats the type inside the JSON.
		return false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == sseDone {
		return true
	}
	return handle(payload)
}

package adjudicate

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// streamChannel discriminates where a streamed chunk came from. The
// transport interleaves final-answer deltas with tool-invocation
// deltas; only the former belong in the adjudication output.
type streamChannel int

const (
	channelAnswer streamChannel = iota
	channelTool
)

// chunk is one unit of streamed model output, or a terminal read error.
type chunk struct {
	channel streamChannel
	text    string
	err     error
}

// streamEvent mirrors the subset of an SSE chat-completion delta the
// pipeline cares about.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

// produceChunks reads server-sent events from body and emits one chunk
// per delta, preserving emission order. It closes out when the stream
// ends and always closes the channel.
func produceChunks(body io.Reader, out chan<- chunk) {
	defer close(out)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Providers occasionally interleave comment or keepalive
			// payloads; skip anything that is not a delta event.
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content != "" {
				out <- chunk{channel: channelAnswer, text: choice.Delta.Content}
			}
			for _, call := range choice.Delta.ToolCalls {
				out <- chunk{channel: channelTool, text: call.Function.Arguments}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- chunk{err: err}
	}
}

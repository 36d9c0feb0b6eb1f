package translator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ToOpenAI translates an upstream unary Gemini generateContent response
// into an OpenAI chat.completion response, per spec §4.3.
func ToOpenAI(body []byte, requestedModel string, createdAt int64) ([]byte, error) {
	root := gjson.ParseBytes(body)
	if inner := root.Get("response"); inner.Exists() {
		root = inner
	}
	candidates := root.Get("candidates")
	if !candidates.IsArray() || len(candidates.Array()) == 0 {
		return nil, fmt.Errorf("translator: upstream response had no candidates")
	}
	first := candidates.Array()[0]

	content, reasoning := splitParts(first.Get("content.parts"))
	finishReason := mapFinishReason(first.Get("finishReason").String())

	resp := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": createdAt,
		"model":   requestedModel,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": finishReason,
			},
		},
	}
	if reasoning != "" {
		msg := resp["choices"].([]map[string]any)[0]["message"].(map[string]any)
		msg["reasoning_content"] = reasoning
	}
	if usage := root.Get("usageMetadata"); usage.Exists() {
		resp["usage"] = map[string]any{
			"prompt_tokens":     usage.Get("promptTokenCount").Int(),
			"completion_tokens": usage.Get("candidatesTokenCount").Int(),
			"total_tokens":      usage.Get("totalTokenCount").Int(),
		}
	}

	return marshalJSON(resp)
}

// ChunkToOpenAI translates one upstream streaming Gemini chunk into one
// OpenAI chat.completion.chunk, per spec §4.3. first indicates this is the
// opening chunk of the stream (delta carries role="assistant").
func ChunkToOpenAI(chunk []byte, requestedModel, id string, createdAt int64, first bool) ([]byte, bool, error) {
	root := gjson.ParseBytes(chunk)
	if inner := root.Get("response"); inner.Exists() {
		root = inner
	}
	candidates := root.Get("candidates")
	if !candidates.IsArray() || len(candidates.Array()) == 0 {
		return nil, false, fmt.Errorf("translator: upstream chunk had no candidates")
	}
	cand := candidates.Array()[0]

	content, reasoning := splitParts(cand.Get("content.parts"))
	rawFinish := cand.Get("finishReason").String()
	isFinal := rawFinish != ""

	delta := map[string]any{}
	if first {
		delta["role"] = "assistant"
	}
	if content != "" {
		delta["content"] = content
	}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}

	choice := map[string]any{"index": 0, "delta": delta}
	if isFinal {
		choice["finish_reason"] = mapFinishReason(rawFinish)
	} else {
		choice["finish_reason"] = nil
	}

	out := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": createdAt,
		"model":   requestedModel,
		"choices": []map[string]any{choice},
	}

	data, err := marshalJSON(out)
	return data, isFinal, err
}

// splitParts concatenates a Gemini content.parts array into visible
// content and thought (reasoning) text, and re-encodes any inlineData part
// as a markdown image in the visible content.
func splitParts(parts gjson.Result) (content, reasoning string) {
	var contentBuf, reasoningBuf strings.Builder
	for _, p := range parts.Array() {
		if p.Get("thought").Bool() {
			reasoningBuf.WriteString(p.Get("text").String())
			continue
		}
		if text := p.Get("text"); text.Exists() {
			contentBuf.WriteString(text.String())
			continue
		}
		if inline := p.Get("inlineData"); inline.Exists() {
			mime := inline.Get("mimeType").String()
			data := inline.Get("data").String()
			contentBuf.WriteString(fmt.Sprintf("![image](data:%s;base64,%s)", mime, data))
		}
	}
	return contentBuf.String(), reasoningBuf.String()
}

func mapFinishReason(raw string) string {
	switch raw {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "":
		return "stop"
	default:
		return "stop"
	}
}

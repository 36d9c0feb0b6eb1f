package translator

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnwrapNative extracts the inner `response` field the upstream wraps
// native unary/streaming responses in, if present; otherwise it returns
// body unchanged (some upstream paths return the bare Gemini shape).
func UnwrapNative(body []byte) ([]byte, error) {
	inner := gjson.GetBytes(body, "response")
	if !inner.Exists() {
		return body, nil
	}
	return []byte(inner.Raw), nil
}

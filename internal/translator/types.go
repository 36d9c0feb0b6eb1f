// Package translator implements the bidirectional OpenAI<->Gemini format
// translation of spec §4.3, driven by field-by-field gjson/sjson access
// rather than static request/response structs — unknown top-level request
// fields are ignored with a debug log, per spec §9.
package translator

import "fmt"

// ErrInvalidRequest marks a translation failure that should surface to the
// client as a 400 invalid_request_error, per spec §7.
type ErrInvalidRequest struct{ msg string }

func (e *ErrInvalidRequest) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ErrInvalidRequest{msg: fmt.Sprintf(format, args...)}
}

// harmCategories lists the 11 Gemini safety categories that default to
// BLOCK_NONE unless the client overrides them, per spec §4.3.
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
	"HARM_CATEGORY_UNSPECIFIED",
	"HARM_CATEGORY_DEROGATORY",
	"HARM_CATEGORY_TOXICITY",
	"HARM_CATEGORY_VIOLENCE",
	"HARM_CATEGORY_SEXUAL",
	"HARM_CATEGORY_MEDICAL",
}

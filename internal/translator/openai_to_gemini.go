package translator

import (
	"encoding/base64"
	"regexp"
	"strings"

	"gemini-oauth-proxy/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// markdownImagePattern matches a markdown inline image whose source is a
// data URI, e.g. ![alt](data:image/png;base64,AAAA...).
var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(data:([^;]+);base64,([A-Za-z0-9+/=]+)\)`)

// FromOpenAI translates an inbound OpenAI chat-completions request body
// into the upstream Gemini generateContent payload, per spec §4.3. It
// returns the resolved base model name (suffixes stripped) for the caller
// to inject as the upstream `model` field.
func FromOpenAI(body []byte) (geminiBody []byte, resolvedModel string, err error) {
	root := gjson.ParseBytes(body)

	modelName := root.Get("model").String()
	if modelName == "" {
		return nil, "", invalidf("missing model")
	}
	desc, flags, resolveErr := models.Resolve(modelName)
	if resolveErr != nil {
		return nil, "", invalidf("unknown model %q", modelName)
	}

	known := map[string]bool{
		"model": true, "messages": true, "stream": true, "temperature": true, "top_p": true,
		"top_k": true, "max_tokens": true, "max_completion_tokens": true, "stop": true,
		"frequency_penalty": true, "presence_penalty": true, "seed": true,
		"response_format": true, "safety_settings": true, "reasoning_effort": true,
	}
	root.ForEach(func(key, _ gjson.Result) bool {
		if !known[key.String()] {
			log.WithField("field", key.String()).Debug("translator: ignoring unknown request field")
		}
		return true
	})

	out := []byte("{}")

	var systemParts []string
	var contents []map[string]any

	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, "", invalidf("missing messages")
	}

	for _, msg := range messages.Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if role == "system" || role == "developer" {
			if content.Type == gjson.String {
				systemParts = append(systemParts, content.String())
			}
			continue
		}

		geminiRole := "user"
		switch role {
		case "assistant":
			geminiRole = "model"
		case "user", "tool":
			geminiRole = "user"
		}

		parts, perr := contentToParts(content)
		if perr != nil {
			return nil, "", perr
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{"role": geminiRole, "parts": parts})
	}

	if len(systemParts) > 0 {
		out, err = sjson.SetBytes(out, "systemInstruction", map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"text": strings.Join(systemParts, "\n\n")}},
		})
		if err != nil {
			return nil, "", err
		}
	}

	out, err = sjson.SetBytes(out, "contents", contents)
	if err != nil {
		return nil, "", err
	}

	genConfig := buildGenerationConfig(root, desc)
	if len(genConfig) > 0 {
		out, err = sjson.SetBytes(out, "generationConfig", genConfig)
		if err != nil {
			return nil, "", err
		}
	}

	safety := buildSafetySettings(root)
	out, err = sjson.SetBytes(out, "safetySettings", safety)
	if err != nil {
		return nil, "", err
	}

	if desc.SupportsThinking {
		thinking, ok := thinkingConfigFor(desc.Name, flags, root)
		if ok {
			out, err = sjson.SetBytes(out, "generationConfig.thinkingConfig", thinking)
			if err != nil {
				return nil, "", err
			}
		}
	}

	if flags.Search || models.IsSearch(modelName) {
		out, err = sjson.SetBytes(out, "tools", []map[string]any{{"googleSearch": map[string]any{}}})
		if err != nil {
			return nil, "", err
		}
	}

	return out, desc.Name, nil
}

// contentToParts converts an OpenAI message's `content` field (a string or
// an array of text/image_url parts) into Gemini content parts. Only data:
// URIs are supported inbound for image_url, per spec §4.3; plain HTTPS
// image URLs are not.
func contentToParts(content gjson.Result) ([]map[string]any, error) {
	if content.Type == gjson.String {
		return textWithInlineImages(content.String()), nil
	}

	if !content.IsArray() {
		return nil, nil
	}

	var parts []map[string]any
	for _, item := range content.Array() {
		switch item.Get("type").String() {
		case "text":
			parts = append(parts, textWithInlineImages(item.Get("text").String())...)
		case "image_url":
			url := item.Get("image_url.url").String()
			mime, data, ok := parseDataURI(url)
			if !ok {
				return nil, invalidf("unsupported image_url (only data: URIs are accepted inbound)")
			}
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{"mimeType": mime, "data": data},
			})
		}
	}
	return parts, nil
}

// textWithInlineImages extracts markdown inline data-URI images from text
// into separate inlineData parts, preserving the surrounding text with the
// image markers removed (teacher has no equivalent; authored fresh per
// spec §4.3).
func textWithInlineImages(text string) []map[string]any {
	matches := markdownImagePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if text == "" {
			return nil
		}
		return []map[string]any{{"text": text}}
	}

	var parts []map[string]any
	last := 0
	for _, m := range matches {
		if m[0] > last {
			if chunk := text[last:m[0]]; strings.TrimSpace(chunk) != "" {
				parts = append(parts, map[string]any{"text": chunk})
			}
		}
		mime := text[m[2]:m[3]]
		data := text[m[4]:m[5]]
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{"mimeType": mime, "data": data},
		})
		last = m[1]
	}
	if last < len(text) {
		if chunk := text[last:]; strings.TrimSpace(chunk) != "" {
			parts = append(parts, map[string]any{"text": chunk})
		}
	}
	return parts
}

func parseDataURI(url string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	mime = rest[:semi]
	data = rest[semi+len(";base64,"):]
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return "", "", false
	}
	return mime, data, true
}

func buildGenerationConfig(root gjson.Result, desc models.Descriptor) map[string]any {
	cfg := map[string]any{"candidateCount": 1}

	if v := root.Get("temperature"); v.Exists() {
		cfg["temperature"] = v.Num
	}
	if v := root.Get("top_p"); v.Exists() {
		cfg["topP"] = v.Num
	}
	if v := root.Get("top_k"); v.Exists() {
		cfg["topK"] = v.Num
	}
	maxTokens := desc.OutputTokenLimit
	if v := root.Get("max_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	} else if v := root.Get("max_completion_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}
	cfg["maxOutputTokens"] = maxTokens

	if v := root.Get("stop"); v.Exists() {
		var stops []string
		if v.IsArray() {
			for _, s := range v.Array() {
				stops = append(stops, s.String())
			}
		} else if v.Type == gjson.String {
			stops = append(stops, v.String())
		}
		if len(stops) > 0 {
			cfg["stopSequences"] = stops
		}
	}
	if v := root.Get("frequency_penalty"); v.Exists() {
		cfg["frequencyPenalty"] = v.Num
	}
	if v := root.Get("presence_penalty"); v.Exists() {
		cfg["presencePenalty"] = v.Num
	}
	if v := root.Get("seed"); v.Exists() {
		cfg["seed"] = v.Int()
	}

	switch root.Get("response_format.type").String() {
	case "json_object":
		cfg["responseMimeType"] = "application/json"
	case "json_schema":
		cfg["responseMimeType"] = "application/json"
		if schema := root.Get("response_format.json_schema.schema"); schema.Exists() {
			cfg["responseSchema"] = schema.Value()
		}
	}

	return cfg
}

func buildSafetySettings(root gjson.Result) []map[string]any {
	overrides := map[string]string{}
	for _, s := range root.Get("safety_settings").Array() {
		cat := s.Get("category").String()
		thr := s.Get("threshold").String()
		if cat != "" && thr != "" {
			overrides[cat] = thr
		}
	}

	var out []map[string]any
	for _, cat := range harmCategories {
		threshold := "BLOCK_NONE"
		if v, ok := overrides[cat]; ok {
			threshold = v
		}
		out = append(out, map[string]any{"category": cat, "threshold": threshold})
	}
	return out
}

// thinkingConfigFor resolves the thinkingConfig payload for a request,
// honoring a variant suffix over an explicit reasoning_effort, per spec
// §4.1's "suffix wins" rule.
func thinkingConfigFor(resolvedName string, flags models.Flags, root gjson.Result) (map[string]any, bool) {
	if effort := root.Get("reasoning_effort").String(); effort != "" && !hasExplicitThinkingSuffix(root.Get("model").String()) {
		policy, ok, err := models.ThinkingForEffort(resolvedName, effort)
		if err == nil && ok {
			return map[string]any{"thinkingBudget": policy.BudgetTokens, "includeThoughts": policy.IncludeThoughts}, true
		}
	}

	policy, ok, err := models.ThinkingFor(root.Get("model").String())
	if err != nil || !ok {
		return nil, false
	}
	return map[string]any{"thinkingBudget": policy.BudgetTokens, "includeThoughts": policy.IncludeThoughts}, true
}

func hasExplicitThinkingSuffix(name string) bool {
	return strings.HasSuffix(name, "-nothinking") || strings.HasSuffix(name, "-maxthinking")
}

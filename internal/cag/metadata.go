package cag

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"

	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// Metadata carries the structured fields mined from a response: how
// confident the model claims to be, and which techniques, tools, code
// examples, and sources it referenced.
type Metadata struct {
	Confidence   float64  `json:"confidence"`
	Techniques   []string `json:"techniques,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	CodeExamples []string `json:"codeExamples,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// defaultConfidence is assigned to responses that carry no structured
// metadata block.
const defaultConfidence = 0.7

// extractMetadata pulls the structured block out of a model response. The
// prompt asks for a trailing JSON object; models frequently emit it fenced,
// truncated, or with trailing commas, so parsing falls back to jsonrepair
// before giving up. Absent or unusable blocks yield defaults rather than
// errors: metadata is advisory.
func extractMetadata(response string) Metadata {
	meta := Metadata{Confidence: defaultConfidence}

	raw, ok := findJSONBlock(response)
	if !ok {
		return meta
	}

	var decoded struct {
		Confidence   float64  `json:"confidence"`
		Techniques   []string `json:"techniques"`
		Tools        []string `json:"tools"`
		CodeExamples []string `json:"codeExamples"`
		Sources      []string `json:"sources"`
	}
	if err := jsonx.Unmarshal([]byte(raw), &decoded); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return meta
		}
		if err := jsonx.Unmarshal([]byte(repaired), &decoded); err != nil {
			return meta
		}
	}

	if decoded.Confidence > 0 && decoded.Confidence <= 1 {
		meta.Confidence = decoded.Confidence
	}
	meta.Techniques = decoded.Techniques
	meta.Tools = decoded.Tools
	meta.CodeExamples = decoded.CodeExamples
	meta.Sources = decoded.Sources
	return meta
}

// findJSONBlock locates the most plausible JSON object in a response:
// a ```json fence first, then a whole-object response, then a trailing
// object on its own line.
func findJSONBlock(response string) (string, bool) {
	if start := strings.Index(response, "```json"); start >= 0 {
		rest := response[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), true
		}
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, true
	}

	if idx := strings.LastIndex(trimmed, "\n{"); idx >= 0 && strings.HasSuffix(trimmed, "}") {
		return trimmed[idx+1:], true
	}
	return "", false
}

package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// outputKeys is the ordered list of keys the workflow's free-text output has
// been observed under across provider versions.
var outputKeys = []string{"text", "result", "output", "answer", "json"}

// ParseVerdict interprets a raw workflow response body as a [Verdict].
// The parser never panics: any fault is converted to a *[ParseError].
func ParseVerdict(raw []byte) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{}
			err = &ParseError{Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	var envelope map[string]any
	if jsonErr := json.Unmarshal(raw, &envelope); jsonErr != nil {
		return Verdict{}, &ParseError{Reason: "response is not JSON", Cause: jsonErr}
	}

	data, ok := envelope["data"].(map[string]any)
	if !ok {
		// No data key means the service reported a top-level error.
		if msg, ok := envelope["message"].(string); ok {
			return Verdict{}, &ParseError{Reason: "workflow error: " + msg}
		}
		return Verdict{}, &ParseError{Reason: "response carries no data object"}
	}

	if status, _ := data["status"].(string); !strings.EqualFold(status, "succeeded") {
		return Verdict{}, &ParseError{Reason: fmt.Sprintf("workflow status %q", data["status"])}
	}

	outputs, ok := data["outputs"].(map[string]any)
	if !ok {
		return Verdict{}, &ParseError{Reason: "response carries no outputs object"}
	}

	text, ok := findOutputText(outputs)
	if !ok {
		return Verdict{}, &ParseError{Reason: "no output text under any known key"}
	}

	fields, jsonErr := parseOutputText(text)
	if jsonErr != nil {
		return Verdict{}, &ParseError{Reason: "output text is not JSON", Cause: jsonErr}
	}

	v = Verdict{
		Decision:    extractDecision(fields),
		Confidence:  extractConfidence(fields),
		TotalTokens: intField(data, "total_tokens"),
		TotalSteps:  intField(data, "total_steps"),
	}
	if elapsed, ok := data["elapsed_time"].(float64); ok {
		v.ProcessingDuration = time.Duration(elapsed * float64(time.Second))
	}
	v.Explanation = buildExplanation(fields, v.Confidence)
	return v, nil
}

// findOutputText walks the known output keys in order and returns the first
// non-empty string value.
func findOutputText(outputs map[string]any) (string, bool) {
	for _, key := range outputKeys {
		if s, ok := outputs[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// parseOutputText strips optional markdown code fences and parses the result
// as a JSON object.
func parseOutputText(text string) (map[string]any, error) {
	text = stripCodeFence(text)
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stripCodeFence removes a wrapping ```json ... ``` or bare ``` ... ``` fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag up to the first newline.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractDecision maps the verdict field (under either name, any casing)
// through the synonym table. An absent or unrecognised verdict falls back to
// thresholding the confidence at 0.5.
func extractDecision(fields map[string]any) Decision {
	raw, ok := stringField(fields, "verdict")
	if !ok {
		raw, ok = stringField(fields, "decision")
	}
	if ok {
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "PHISHING", "MALICIOUS", "SUSPICIOUS":
			return DecisionPhishing
		case "SAFE", "LEGITIMATE", "BENIGN":
			return DecisionSafe
		}
	}
	if extractConfidence(fields) >= 0.5 {
		return DecisionPhishing
	}
	return DecisionSafe
}

// extractConfidence returns the numeric confidence field, defaulting to 0.5
// when absent or non-numeric.
func extractConfidence(fields map[string]any) float64 {
	for key, val := range fields {
		if !strings.EqualFold(key, "confidence") {
			continue
		}
		switch n := val.(type) {
		case float64:
			return n
		case string:
			var f float64
			if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
				return f
			}
		}
	}
	return 0.5
}

// buildExplanation concatenates the reasons and evidence lists into one
// human-readable string, synthesizing one from the confidence when neither
// is present.
func buildExplanation(fields map[string]any, confidence float64) string {
	var parts []string

	if reasons, ok := listField(fields, "reasons"); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}

	if evidence, ok := listField(fields, "evidence"); ok {
		for _, e := range evidence {
			switch item := e.(type) {
			case string:
				if item != "" {
					parts = append(parts, item)
				}
			case map[string]any:
				quote, _ := stringField(item, "quote")
				tactic, _ := stringField(item, "tactic")
				switch {
				case quote != "" && tactic != "":
					parts = append(parts, fmt.Sprintf("%s: %q", tactic, quote))
				case quote != "":
					parts = append(parts, fmt.Sprintf("%q", quote))
				case tactic != "":
					parts = append(parts, tactic)
				}
			}
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("classifier confidence %.2f", confidence)
	}
	return strings.Join(parts, "; ")
}

// stringField finds a string value under key, matching case-insensitively.
func stringField(fields map[string]any, key string) (string, bool) {
	for k, val := range fields {
		if strings.EqualFold(k, key) {
			s, ok := val.(string)
			return s, ok
		}
	}
	return "", false
}

// listField finds a list value under key, matching case-insensitively.
func listField(fields map[string]any, key string) ([]any, bool) {
	for k, val := range fields {
		if strings.EqualFold(k, key) {
			l, ok := val.([]any)
			return l, ok
		}
	}
	return nil, false
}

// intField reads a numeric field from a decoded JSON object.
func intField(fields map[string]any, key string) int {
	if n, ok := fields[key].(float64); ok {
		return int(n)
	}
	return 0
}

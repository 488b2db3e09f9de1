package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Normalised urgency values.
const (
	UrgencyHigh    = "high"
	UrgencyUnknown = "unknown"
)

// DefaultHighUrgencyToken is the reply value that maps to [UrgencyHigh].
const DefaultHighUrgencyToken = "高"

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// Result is the structured scene classification extracted from a reply.
type Result struct {
	Scene             string
	Summary           string
	Urgency           string
	RecommendedAction string
}

// replyKeys lists the accepted spellings of each field, English first.
var replyKeys = [4][]string{
	{"scene", "场景"},
	{"summary", "信息"},
	{"urgency", "紧急程度"},
	{"recommendedAction", "建议行动"},
}

// ParseReply extracts the first fenced json block from reply and decodes
// the four result fields. All four keys must be present. A null value reads
// as the empty string; other non-string values are formatted with fmt.
func ParseReply(reply string) (*Result, error) {
	m := fencedJSON.FindStringSubmatch(reply)
	if m == nil {
		return nil, &ParseError{Reply: reply, Err: ErrNoJSONBlock}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(m[1]), &obj); err != nil {
		return nil, &ParseError{Reply: reply, Err: fmt.Errorf("decode json: %w", err)}
	}
	if obj == nil {
		return nil, &ParseError{Reply: reply, Err: fmt.Errorf("json block is not an object")}
	}

	var vals [4]string
	for i, keys := range replyKeys {
		v, ok := lookup(obj, keys)
		if !ok {
			return nil, &ParseError{Reply: reply, Err: fmt.Errorf("missing key %q", keys[0])}
		}
		vals[i] = v
	}
	return &Result{
		Scene:             vals[0],
		Summary:           vals[1],
		Urgency:           vals[2],
		RecommendedAction: vals[3],
	}, nil
}

func lookup(obj map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
			return "", true
		case string:
			return t, true
		default:
			return fmt.Sprint(t), true
		}
	}
	return "", false
}

// NormalizeUrgency maps an exact match of highToken to [UrgencyHigh] and
// the empty value to [UrgencyUnknown]. Anything else is returned unchanged,
// so free-text values such as "中" or "medium" never trigger an alert.
func NormalizeUrgency(value, highToken string) string {
	switch {
	case value == "":
		return UrgencyUnknown
	case value == highToken:
		return UrgencyHigh
	default:
		return value
	}
}

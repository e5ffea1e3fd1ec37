package interpreter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"chromate/internal/domain"
)

// parameterKeys lists, per action, the object keys that may carry the value.
var parameterKeys = map[domain.ActionKind][]string{
	domain.ActionScroll: {"direction", "dir"},
	domain.ActionZoom:   {"direction", "dir", "zoom"},
	domain.ActionOpen:   {"url", "link", "href", "site"},
	domain.ActionSearch: {"query", "q", "keyword", "text"},
}

// NormalizeAction turns a raw interpreter answer into the canonical action
// shape. parameters may be a JSON string, an object or absent.
func NormalizeAction(kind string, parameters json.RawMessage) (domain.Action, error) {
	action := domain.Action{Kind: domain.ActionKind(strings.ToLower(strings.TrimSpace(kind)))}
	if action.Kind == "" {
		return domain.Action{}, errors.New("missing action")
	}

	value, err := parameterValue(action.Kind, parameters)
	if err != nil {
		return domain.Action{}, err
	}

	switch action.Kind {
	case domain.ActionScroll:
		action.Direction = scrollDirection(value)
	case domain.ActionZoom:
		action.Direction = zoomDirection(value)
	case domain.ActionOpen:
		target, err := NormalizeURL(value)
		if err != nil {
			return domain.Action{}, err
		}
		action.URL = target
	case domain.ActionSearch:
		query := strings.TrimSpace(value)
		if query == "" {
			return domain.Action{}, errors.New("search action without query")
		}
		action.Query = query
	}
	return action, nil
}

func parameterValue(kind domain.ActionKind, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("invalid parameters string: %w", err)
		}
		return text, nil
	case '{':
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", fmt.Errorf("invalid parameters object: %w", err)
		}
		for _, key := range parameterKeys[kind] {
			if text, ok := fields[key].(string); ok {
				return text, nil
			}
		}
		return soleString(fields), nil
	default:
		return "", nil
	}
}

// soleString returns the only string value of an object, if there is exactly one.
func soleString(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for key, value := range fields {
		if _, ok := value.(string); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) != 1 {
		return ""
	}
	sort.Strings(keys)
	return fields[keys[0]].(string)
}

func scrollDirection(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), domain.DirectionUp) {
		return domain.DirectionUp
	}
	return domain.DirectionDown
}

func zoomDirection(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), domain.DirectionOut) {
		return domain.DirectionOut
	}
	return domain.DirectionIn
}

// NormalizeURL prefixes bare hosts with https:// and converts
// internationalized host names to their ASCII form.
func NormalizeURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", errors.New("open action without url")
	}
	lowered := strings.ToLower(target)
	if !strings.HasPrefix(lowered, "http://") && !strings.HasPrefix(lowered, "https://") {
		target = "https://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}

	host, err := idna.Lookup.ToASCII(parsed.Hostname())
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", parsed.Hostname(), err)
	}
	if port := parsed.Port(); port != "" {
		host = host + ":" + port
	}
	parsed.Host = host
	return parsed.String(), nil
}

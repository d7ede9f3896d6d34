package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output: the message, an
// optional hint, and the error code when one is known.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", err.Error())

	var ce *CodedError
	if errors.As(err, &ce) && ce.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ce.Suggestion)
	} else if hint := hintFor(err); hint != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", hint)
	}

	if code := GetCode(err); code != "" {
		fmt.Fprintf(&sb, "  Code: %s\n", code)
	}
	return sb.String()
}

func hintFor(err error) string {
	var sm *SchemaMismatchError
	if errors.As(err, &sm) {
		return "the embedding model changed; delete the collection or switch store.collection"
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) && ee.Unreachable {
		return "check that the embedding provider is running and embeddings.host is correct"
	}
	var de *DiscoveryError
	if errors.As(err, &de) {
		return "check that the path exists and is readable"
	}
	return ""
}

// LogAttrs returns slog attributes describing err for structured logging.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{slog.String("error", err.Error())}
	if code := GetCode(err); code != "" {
		attrs = append(attrs,
			slog.String("error_code", code),
			slog.String("category", string(categoryFromCode(code))),
			slog.String("severity", string(severityFromCode(code))),
		)
	}

	var ce *CodedError
	if errors.As(err, &ce) {
		for k, v := range ce.Details {
			attrs = append(attrs, slog.String("detail_"+k, v))
		}
	}
	return attrs
}

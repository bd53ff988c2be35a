package expression

import (
	"fmt"

	"carbon-scribe/report-engine/internal/reports"
)

func syntaxError(format string, args ...any) error {
	return &reports.ExpressionError{Kind: reports.ExprSyntax, Message: fmt.Sprintf(format, args...)}
}

func undefinedError(format string, args ...any) error {
	return &reports.ExpressionError{Kind: reports.ExprUndefined, Message: fmt.Sprintf(format, args...)}
}

func evalError(format string, args ...any) error {
	return &reports.ExpressionError{Kind: reports.ExprEvaluation, Message: fmt.Sprintf(format, args...)}
}

func isUndefined(err error) bool {
	e, ok := err.(*reports.ExpressionError)
	return ok && e.Kind == reports.ExprUndefined
}

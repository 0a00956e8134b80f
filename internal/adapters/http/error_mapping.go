package httpadapter

import (
	"net/http"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrUnknownSourceType):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrBothSourcesUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errorKinds = map[error]string{
	domain.ErrInvalidInput:           "invalid_input",
	domain.ErrUnknownSourceType:      "invalid_input",
	domain.ErrBothSourcesUnavailable: "both_sources_unavailable",
}

func errorKind(err error) string {
	if kind, ok := errorKinds[domain.KindOf(err)]; ok {
		return kind
	}
	return "internal"
}

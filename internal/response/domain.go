package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// FromDomain maps err to an HTTP status and error code. Errors that are not
// domain errors map to 500 INTERNAL_ERROR.
func FromDomain(err error) (int, ErrCode) {
	var de *model.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, ErrInternal
	}

	code := ErrCode(de.Code)
	switch de.Kind {
	case model.KindConflict:
		return http.StatusConflict, code
	case model.KindNotFound:
		return http.StatusNotFound, code
	case model.KindGuard:
		switch de {
		case model.ErrNotEligible, model.ErrNotAttemptOwner:
			return http.StatusForbidden, code
		case model.ErrInvalidBatchWindow:
			return http.StatusBadRequest, code
		}
		return http.StatusUnprocessableEntity, code
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}

// FailError sends the envelope for a service error.
func FailError(c *gin.Context, err error) {
	status, code := FromDomain(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	Fail(c, status, code)
}

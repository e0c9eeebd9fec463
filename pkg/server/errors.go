package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// ErrorBody is the JSON error document.
type ErrorBody struct {
	Class     string `json:"class,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	DepositID string `json:"deposit_id,omitempty"`
}

// ErrorResponse wraps an ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusCode maps an error to an HTTP status by its class.
func StatusCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}

	var ie *ingest.IngestError
	if errors.As(err, &ie) && ie.Code == ingest.ErrCodeUnsupportedPackage {
		return http.StatusUnsupportedMediaType
	}

	switch ingest.ClassOf(err) {
	case ingest.ErrorClassValidation:
		return http.StatusBadRequest
	case ingest.ErrorClassNotFound:
		return http.StatusNotFound
	case ingest.ErrorClassDuplicateKey:
		return http.StatusConflict
	case ingest.ErrorClassPackage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorBody {
	var ie *ingest.IngestError
	if errors.As(err, &ie) {
		return ErrorBody{
			Class:     string(ie.Class),
			Code:      ie.Code,
			Message:   ie.Error(),
			DepositID: ie.DepositID,
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return ErrorBody{Message: msg}
		}
		return ErrorBody{Message: http.StatusText(he.Code)}
	}
	return ErrorBody{Message: err.Error()}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := StatusCode(err)
	body := ErrorResponse{Error: errorBody(err)}
	if status >= http.StatusInternalServerError {
		// Internal details stay in the log.
		var ie *ingest.IngestError
		if !errors.As(err, &ie) || ie.Class == ingest.ErrorClassInternal {
			body.Error.Message = http.StatusText(status)
		}
	}

	var respErr error
	if c.Request().Method == http.MethodHead {
		respErr = c.NoContent(status)
	} else {
		respErr = c.JSON(status, body)
	}
	if respErr != nil {
		s.logger.WithError(respErr).Error("failed to write error response")
	}
}

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// PhaseResponse reports where a deposit stands after a request. A phase
// failure is not an HTTP error: the deposit exists and records the failure.
type PhaseResponse struct {
	DepositID string            `json:"deposit_id"`
	Phase     ingest.PhaseState `json:"phase"`
	Error     *ErrorBody        `json:"error,omitempty"`
}

var metadataHeaders = []string{
	deposit.HeaderContentDisposition,
	deposit.HeaderAuthenticatedUser,
	deposit.HeaderPackaging,
	deposit.HeaderContentType,
	deposit.HeaderContentMD5,
}

func (s *Server) createDeposit(c echo.Context) error {
	req := c.Request()

	metadata := make(deposit.Metadata, len(metadataHeaders))
	for _, h := range metadataHeaders {
		if v := req.Header.Get(h); v != "" {
			metadata[h] = v
		}
	}

	depositID, err := s.deposits.Deposit(req.Context(), req.Body,
		req.Header.Get(deposit.HeaderContentType),
		req.Header.Get(deposit.HeaderPackaging),
		metadata)
	if depositID == "" {
		if err == nil {
			err = ingest.NewInternalError("deposit returned no id", nil)
		}
		return err
	}

	info, infoErr := s.deposits.DepositInfo(req.Context(), depositID)
	if infoErr != nil {
		return infoErr
	}

	resp := PhaseResponse{DepositID: depositID, Phase: info.Phase}
	if err != nil {
		body := errorBody(err)
		resp.Error = &body
	}
	c.Response().Header().Set(echo.HeaderLocation, "/deposits/"+depositID)
	return c.JSON(http.StatusAccepted, resp)
}

func (s *Server) getDeposit(c echo.Context) error {
	info, err := s.deposits.DepositInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) resumeDeposit(c echo.Context) error {
	depositID := c.Param("id")
	phase, err := s.deposits.Resume(c.Request().Context(), depositID)
	return s.phaseResponse(c, depositID, phase, err)
}

func (s *Server) cancelDeposit(c echo.Context) error {
	depositID := c.Param("id")
	phase, err := s.deposits.Cancel(c.Request().Context(), depositID)
	return s.phaseResponse(c, depositID, phase, err)
}

func (s *Server) phaseResponse(c echo.Context, depositID string, phase ingest.PhaseState, err error) error {
	if err != nil && !ingest.IsPhaseFailure(err) {
		return err
	}
	resp := PhaseResponse{DepositID: depositID, Phase: phase}
	if err != nil {
		body := errorBody(err)
		resp.Error = &body
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) healthz(c echo.Context) error {
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request().Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

package consent

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/portal/internal/platform/apperr"
	"github.com/carebridge/portal/internal/platform/auth"
	"github.com/carebridge/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consents", h.CreateConsent, auth.RequireRole(auth.RoleDoctor))
	api.GET("/consents", h.ListConsents)
	api.GET("/consents/:id", h.GetConsent)
	api.POST("/consents/:id/respond", h.RespondConsent, auth.RequireRole(auth.RolePatient))
	api.POST("/consents/:id/revoke", h.RevokeConsent, auth.RequireRole(auth.RolePatient))
}

func (h *Handler) CreateConsent(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Create(c.Request().Context(),
		auth.UserIDFromContext(c.Request().Context()), auth.NameFromContext(c.Request().Context()), in)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

// ListConsents is role-scoped: patients see requests aimed at them,
// doctors see requests they opened.
func (h *Handler) ListConsents(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(c.Request().Context())

	var (
		items []*ConsentRequest
		total int
		err   error
	)
	if auth.RoleFromContext(c.Request().Context()) == auth.RolePatient {
		items, total, err = h.svc.ListForPatient(ctx, userID, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListForRequester(ctx, userID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.Get(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RespondConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in RespondInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Respond(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()), in)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RevokeConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.Revoke(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, req)
}

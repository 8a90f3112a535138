package providers

import (
	"net/http"
	"strconv"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	providerService *Service
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateProviderPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	provider := &models.Provider{
		Name:     params.Name,
		Kind:     params.Kind,
		RootPath: params.RootPath,
	}

	err := h.providerService.CreateProvider(ctx, provider)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, provider))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Provider")
	}

	provider, err := h.providerService.RetrieveProvider(ctx, RetrieveProviderOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, provider))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	providers, err := h.providerService.ListProviders(ctx, ListProvidersOptions{})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Providers []*models.Provider `json:"providers"`
	}{providers}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Provider")
	}

	// Bind params.
	params := UpdateProviderPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	provider, err := h.providerService.RetrieveProvider(ctx, RetrieveProviderOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	columns := []string{}
	if params.Name != nil {
		provider.Name = *params.Name
		columns = append(columns, "name")
	}
	if params.RootPath != nil {
		provider.RootPath = *params.RootPath
		columns = append(columns, "root_path")
	}

	err = h.providerService.UpdateProvider(ctx, provider, UpdateProviderOptions{
		Columns: columns,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, provider))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Provider")
	}

	provider, err := h.providerService.RetrieveProvider(ctx, RetrieveProviderOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	err = h.providerService.DeleteProvider(ctx, provider)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

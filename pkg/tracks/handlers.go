package tracks

import (
	"net/http"
	"strconv"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	trackService *Service
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Track")
	}

	track, err := h.trackService.RetrieveTrack(ctx, RetrieveTrackOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, track))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListTracksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	tracks, total, err := h.trackService.ListTracksWithTotal(ctx, ListTracksOptions{
		Limit:          &params.Limit,
		Offset:         &params.Offset,
		ProviderID:     params.ProviderID,
		ArtistID:       params.ArtistID,
		AlbumID:        params.AlbumID,
		IncludeDeleted: params.IncludeDeleted,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Tracks []*models.Track `json:"tracks"`
		Total  int             `json:"total"`
	}{tracks, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

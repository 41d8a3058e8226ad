package httpapi

import (
	"errors"
	"net/http"

	"github.com/DoyleJ11/battle-sync/internal/grid"
	"github.com/DoyleJ11/battle-sync/internal/vision"
	"github.com/go-chi/chi/v5"
)

// visibilityRequest is one battle snapshot plus a question about it.
// Obstacles left out (null) means no terrain context: radius-only mode.
// An empty list means line of sight over open ground.
type visibilityRequest struct {
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Units     []vision.Unit      `json:"units"`
	Obstacles *[]vision.Obstacle `json:"obstacles,omitempty"`

	Query     string          `json:"query"`
	Target    grid.Position   `json:"target"`
	Positions []grid.Position `json:"positions,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	UnitID    string          `json:"unitId,omitempty"`
}

type visibilityResponse struct {
	Mode    string          `json:"mode"`
	Players []string        `json:"players,omitempty"`
	Visible *bool           `json:"visible,omitempty"`
	Cells   []grid.Position `json:"cells,omitempty"`
	Units   []vision.Unit   `json:"units,omitempty"`
}

func (req visibilityRequest) terrain() vision.Terrain {
	if req.Obstacles == nil {
		return vision.NoObstacles()
	}
	return vision.WithObstacles(*req.Obstacles)
}

func (a *API) Visibility(w http.ResponseWriter, r *http.Request) {
	if a.hub.Get(r.Context(), chi.URLParam(r, "code")) == nil {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}

	var req visibilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	eng, err := vision.NewEngine(req.Width, req.Height)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	terrain := req.terrain()
	res := visibilityResponse{Mode: terrain.Mode.String()}
	switch req.Query {
	case "players":
		var set vision.PlayerSet
		if set, err = eng.VisiblePlayers(req.Units, req.Target, terrain); err == nil {
			res.Players = set.Sorted()
		}
	case "atAny":
		var set vision.PlayerSet
		if set, err = eng.VisibleAtAny(req.Units, req.Positions, terrain); err == nil {
			res.Players = set.Sorted()
		}
	case "hasVision":
		var ok bool
		if ok, err = eng.HasVisionAt(req.Units, req.PlayerID, req.Target, terrain); err == nil {
			res.Visible = &ok
		}
	case "unitSees":
		var ok bool
		if ok, err = eng.UnitSees(req.Units, req.UnitID, req.Target, terrain); err == nil {
			res.Visible = &ok
		}
	case "cells":
		res.Cells, err = eng.VisibleCells(req.Units, req.PlayerID, terrain)
	case "units":
		res.Units, err = eng.VisibleUnits(req.Units, req.PlayerID, terrain)
	default:
		writeError(w, http.StatusBadRequest, "unknown query")
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, vision.ErrUnknownUnit):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

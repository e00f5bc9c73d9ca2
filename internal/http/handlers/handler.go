package handlers

import (
	"context"

	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/bus"
	"prepline-kds-service/internal/config"
	"prepline-kds-service/internal/pos"
	"prepline-kds-service/internal/settings"
)

// LocationLister is the slice of the point-of-sale client the location
// endpoint needs.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]pos.Location, error)
}

type Handler struct {
	Engine    *board.Engine
	Store     *settings.Store
	Locations LocationLister
	Bus       *bus.EventBus
	Logger    *zap.Logger
	Config    config.Config
}

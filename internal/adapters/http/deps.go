package http

import (
	"github.com/nats-io/nats.go"

	"github.com/joonhokim/buscall/internal/adapters/postgres"
	"github.com/joonhokim/buscall/internal/adapters/valkey"
	"github.com/joonhokim/buscall/internal/core/ports"
	"github.com/joonhokim/buscall/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Stops   ports.StopRepository
	Routes  ports.RouteRepository
	Calls   *usecases.CallService
	Buses   ports.BusRepository
	ETAs    ports.ETARepository
	Devices *usecases.DeviceService
	Engine  *usecases.ETAEngine
	Index   *usecases.RegionIndex
	NATS    *nats.Conn
	DB      *postgres.DB
	Store   *valkey.Store
}

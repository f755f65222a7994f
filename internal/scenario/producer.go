package scenario

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

// Producer replays a loaded scenario file onto the controller's event
// channel at a fixed cadence, requesting a fresh fleet group for each
// building in turn. It runs on its own goroutine outside the main loop
// (as the busio listener does in cmd/gateway), and it never
// touches fleet.Manager directly -- not even to read it -- since that
// would race the main loop's own reads and writes. It talks to the core
// exclusively through the bounded out channel, matching the
// single-producer-single-consumer rule the core's main loop assumes; a
// building's reinit request is delivered on that same channel, ahead of
// that building's first frame, so the main loop applies it in order.
type Producer struct {
	log      *zap.Logger
	interval time.Duration
	nFloors  int
}

// NewProducer constructs a Producer that paces frame delivery by
// interval and requests groups of nFloors floors (elevator count comes
// from each building's own request mix, clamped to
// fleet.HardElevatorLimit).
func NewProducer(log *zap.Logger, interval time.Duration, nFloors int) *Producer {
	return &Producer{log: log, interval: interval, nFloors: nFloors}
}

// Run replays every building in f in order, each under a fresh group, and
// every request within a building paced interval apart. It returns when
// the file is exhausted or ctx is cancelled, closing out in neither case
// -- the caller owns the channel's lifetime since the bridge controller's
// drain loop also reads from it after replay completes.
func (p *Producer) Run(ctx context.Context, f *File, out chan<- bridge.InboundEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for _, building := range f.Edificios {
		nElevators := groupSizeFor(building)
		reinit := bridge.InboundEvent{Reinit: &fleet.ReinitRequest{
			BuildingID: building.IDEdificio,
			NElevators: nElevators,
			NFloors:    p.nFloors,
		}}
		select {
		case out <- reinit:
		case <-ctx.Done():
			return ctx.Err()
		}

		lookup := func(id string) int { return indexFromElevatorID(building.IDEdificio, id) }

		for _, req := range building.Peticiones {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			frame, err := EncodeFrame(req, lookup)
			if err != nil {
				p.log.Warn("scenario: skipping unencodable request",
					zap.String("building_id", building.IDEdificio), zap.Error(err))
				continue
			}

			select {
			case out <- bridge.InboundEvent{Frame: &frame}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// indexFromElevatorID resolves the zero-based bus index of an elevator id
// purely from the deterministic "<building><A><n>" naming scheme
// (fleet.newGroup's own convention), so the producer never needs to read
// fleet.Manager's live group to answer this question. Returns -1 if id
// does not belong to buildingID or is not well-formed.
func indexFromElevatorID(buildingID, id string) int {
	prefix := buildingID + "A"
	if !strings.HasPrefix(id, prefix) {
		return -1
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 1 {
		return -1
	}
	return n - 1
}

// groupSizeFor infers how many elevators a building needs from the
// highest cabin index its scenario ever addresses, since the file
// format carries no explicit fleet_size per building.
func groupSizeFor(b Building) int {
	maxIndex := 0
	for _, r := range b.Peticiones {
		if r.Tipo == TipoSolicitudCabina && r.IndiceAscensor > maxIndex {
			maxIndex = r.IndiceAscensor
		}
	}
	size := maxIndex + 1
	if size < 1 {
		size = 1
	}
	if size > fleet.HardElevatorLimit {
		size = fleet.HardElevatorLimit
	}
	return size
}

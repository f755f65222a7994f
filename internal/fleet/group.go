package fleet

import (
	"fmt"
)

// HardElevatorLimit is the absolute upper bound on group size, independent
// of configuration.
const HardElevatorLimit = 16

// Group is the ordered set of elevators for one building. Order is stable
// and defines the bus index used to address a cabin.
type Group struct {
	BuildingID string
	elevators  []*Elevator
}

// Size returns the number of elevators in the group.
func (g *Group) Size() int {
	return len(g.elevators)
}

// ByID returns the elevator with the given id, or nil if absent.
func (g *Group) ByID(elevatorID string) *Elevator {
	for _, e := range g.elevators {
		if e.ElevatorID == elevatorID {
			return e
		}
	}
	return nil
}

// ByIndex returns the elevator at the given zero-based bus index, or nil if
// out of range.
func (g *Group) ByIndex(index int) *Elevator {
	if index < 0 || index >= len(g.elevators) {
		return nil
	}
	return g.elevators[index]
}

// IndexOf returns the zero-based bus index of the given elevator id, or -1
// if absent.
func (g *Group) IndexOf(elevatorID string) int {
	for i, e := range g.elevators {
		if e.ElevatorID == elevatorID {
			return i
		}
	}
	return -1
}

// Each calls fn for every elevator in stable group order.
func (g *Group) Each(fn func(*Elevator)) {
	for _, e := range g.elevators {
		fn(e)
	}
}

// checkInvariants validates all group-level and per-elevator invariants.
func (g *Group) checkInvariants() error {
	seen := make(map[string]struct{}, len(g.elevators))
	for _, e := range g.elevators {
		if e.BuildingID != g.BuildingID {
			return fmt.Errorf("fleet: elevator %s has building_id %q, group is %q", e.ElevatorID, e.BuildingID, g.BuildingID)
		}
		if _, dup := seen[e.ElevatorID]; dup {
			return fmt.Errorf("fleet: duplicate elevator_id %q in group", e.ElevatorID)
		}
		seen[e.ElevatorID] = struct{}{}
		if err := e.checkInvariants(); err != nil {
			return err
		}
	}
	return nil
}

// newGroup allocates a fresh group of n elevators for a building, each at
// floor 0, doors closed, idle.
func newGroup(buildingID string, nElevators int) *Group {
	g := &Group{
		BuildingID: buildingID,
		elevators:  make([]*Elevator, nElevators),
	}
	for i := 0; i < nElevators; i++ {
		g.elevators[i] = &Elevator{
			ElevatorID:        fmt.Sprintf("%sA%d", buildingID, i+1),
			BuildingID:        buildingID,
			CurrentFloor:      0,
			DoorState:         DoorClosed,
			MovementDirection: DirStopped,
			Busy:              false,
		}
	}
	return g
}

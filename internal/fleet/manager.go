package fleet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Sentinel errors surfaced by the manager. Callers match with errors.Is.
var (
	// ErrUnknownElevator is returned when assign_task targets an
	// elevator_id not present in the current group.
	ErrUnknownElevator = errors.New("fleet: unknown elevator")

	// ErrInvalidGroupSize is returned by InitGroup/ReinitGroup when
	// n_elevators is outside [1, HardElevatorLimit].
	ErrInvalidGroupSize = errors.New("fleet: invalid group size")
)

// ReinitRequest carries the arguments for ReinitGroup so a building switch
// can be requested from one goroutine (e.g. the scenario producer) and
// applied from another (the bridge controller's main loop, the only
// caller ever allowed to touch Manager state directly).
type ReinitRequest struct {
	BuildingID string
	NElevators int
	NFloors    int
}

// Manager owns the single live Group for this gateway. All mutation runs on
// the bridge controller's main loop; there is no internal locking because
// nothing outside that loop ever calls these methods (one logical owner,
// no cross-goroutine access).
type Manager struct {
	log   *zap.Logger
	group *Group
}

// NewManager constructs a Manager with no group allocated yet. Callers must
// call InitGroup before using the fleet.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log}
}

// InitGroup allocates a fresh group for a building. Preconditions:
// 1 <= nElevators <= HardElevatorLimit.
func (m *Manager) InitGroup(buildingID string, nElevators, nFloors int) error {
	if nElevators < 1 || nElevators > HardElevatorLimit {
		return fmt.Errorf("%w: n_elevators=%d (limit %d)", ErrInvalidGroupSize, nElevators, HardElevatorLimit)
	}
	m.group = newGroup(buildingID, nElevators)
	m.log.Info("fleet group initialized",
		zap.String("building_id", buildingID),
		zap.Int("n_elevators", nElevators),
		zap.Int("n_floors", nFloors),
	)
	return nil
}

// ReinitGroup atomically replaces the current group with a fresh one for a
// (possibly different) building. Legal mid-run, used when a scenario
// switches buildings. No references to the old group survive the call.
func (m *Manager) ReinitGroup(buildingID string, nElevators, nFloors int) error {
	prev := m.group
	if err := m.InitGroup(buildingID, nElevators, nFloors); err != nil {
		m.group = prev
		return err
	}
	return nil
}

// Group returns the current group. Nil until InitGroup succeeds.
func (m *Manager) Group() *Group {
	return m.group
}

// AssignTask applies a dispatcher verdict to one elevator. If elevatorID is
// not present in the current group, ErrUnknownElevator is returned and no
// state changes. requestReferenceFloor is retained for observability only;
// it does not affect the resulting state.
func (m *Manager) AssignTask(elevatorID, taskID string, targetFloor, requestReferenceFloor int) error {
	e := m.group.ByID(elevatorID)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownElevator, elevatorID)
	}

	e.CurrentTaskID = taskID
	e.CurrentDestination = targetFloor
	e.HasDestination = true
	e.Busy = true
	e.MovementDirection = directionFor(e.CurrentFloor, targetFloor)

	if err := e.checkInvariants(); err != nil {
		// Programming error, not a caller input error: the manager itself
		// produced an inconsistent state.
		m.log.DPanic("fleet: post-assign invariant check failed", zap.Error(err))
	}

	m.log.Debug("task assigned",
		zap.String("elevator_id", elevatorID),
		zap.String("task_id", taskID),
		zap.Int("target_floor", targetFloor),
		zap.Int("request_reference_floor", requestReferenceFloor),
	)
	return nil
}

// CheckInvariants re-validates the whole group. Exposed for tests; the
// manager itself checks only the assigned elevator after AssignTask, via
// DPanic in debug builds.
func (m *Manager) CheckInvariants() error {
	if m.group == nil {
		return nil
	}
	return m.group.checkInvariants()
}

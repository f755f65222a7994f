package fleet

import "errors"

// ElevatorStateWire is the on-wire shape of a single elevator inside
// elevadores_estado. Field order matches the dispatcher contract and must
// be preserved for byte-reproducible payloads.
type ElevatorStateWire struct {
	IDAscensor    string  `json:"id_ascensor"`
	PisoActual    int     `json:"piso_actual"`
	EstadoPuerta  string  `json:"estado_puerta"`
	Disponible    bool    `json:"disponible"`
	TareaActualID *string `json:"tarea_actual_id"`
	DestinoActual *int    `json:"destino_actual"`
}

// Snapshot renders every elevator in stable group order into the wire
// shape the dispatcher expects under elevadores_estado.
func (g *Group) Snapshot() []ElevatorStateWire {
	out := make([]ElevatorStateWire, 0, len(g.elevators))
	for _, e := range g.elevators {
		w := ElevatorStateWire{
			IDAscensor:   e.ElevatorID,
			PisoActual:   e.CurrentFloor,
			EstadoPuerta: e.DoorState.String(),
			Disponible:   !e.Busy,
		}
		if e.hasTask() {
			taskID := e.CurrentTaskID
			w.TareaActualID = &taskID
		}
		if e.HasDestination {
			dest := e.CurrentDestination
			w.DestinoActual = &dest
		}
		out = append(out, w)
	}
	return out
}

// ErrMalformedAssignment is returned when a dispatcher reply is missing one
// of the two required assignment fields.
var ErrMalformedAssignment = errors.New("fleet: malformed assignment")

// Assignment is the parsed shape of a dispatcher success reply, independent
// of the JSON wire struct in the codec package.
type Assignment struct {
	AssignedElevatorID string
	TaskID             string
	AssignedTargetFloor int
	EstimatedArrival    *int
}

// ApplyAssignment validates and applies a parsed dispatcher verdict. Both
// AssignedElevatorID and TaskID are required; their absence (represented as
// empty strings by the codec layer) yields ErrMalformedAssignment without
// mutating any state. An unknown elevator id yields ErrUnknownElevator,
// also without mutation.
func (m *Manager) ApplyAssignment(a Assignment, requestReferenceFloor int) error {
	if a.AssignedElevatorID == "" || a.TaskID == "" {
		return ErrMalformedAssignment
	}
	return m.AssignTask(a.AssignedElevatorID, a.TaskID, a.AssignedTargetFloor, requestReferenceFloor)
}

package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rafavidel1/elevator-gateway/internal/fleet"
)

// CoAP resource paths on the dispatcher, one per request kind.
const (
	PathFloorCall    = "/peticion_piso"
	PathCabinRequest = "/peticion_cabina"
	PathEmergency    = "/llamada_emergencia"
)

// PathFor returns the CoAP resource path for a request kind.
func PathFor(kind RequestKind) (string, error) {
	switch kind {
	case KindFloorCall:
		return PathFloorCall, nil
	case KindCabinRequest:
		return PathCabinRequest, nil
	case KindEmergency:
		return PathEmergency, nil
	default:
		return "", fmt.Errorf("codec: no CoAP path for kind %s", kind)
	}
}

// floorCallPayload is the /peticion_piso request body.
type floorCallPayload struct {
	IDEdificio        string                    `json:"id_edificio"`
	PisoOrigenLlamada int                       `json:"piso_origen_llamada"`
	DireccionLlamada  string                    `json:"direccion_llamada"`
	ElevadoresEstado  []fleet.ElevatorStateWire `json:"elevadores_estado"`
}

// cabinRequestPayload is the /peticion_cabina request body.
type cabinRequestPayload struct {
	IDEdificio            string                    `json:"id_edificio"`
	SolicitandoAscensorID string                    `json:"solicitando_ascensor_id"`
	PisoDestinoSolicitud  int                       `json:"piso_destino_solicitud"`
	ElevadoresEstado      []fleet.ElevatorStateWire `json:"elevadores_estado"`
}

// emergencyPayload is the /llamada_emergencia request body.
type emergencyPayload struct {
	IDEdificio            string                    `json:"id_edificio"`
	AscensorIDEmergencia  string                    `json:"ascensor_id_emergencia"`
	TipoEmergencia        string                    `json:"tipo_emergencia"`
	PisoActualEmergencia  int                       `json:"piso_actual_emergencia"`
	DescripcionEmergencia *string                   `json:"descripcion_emergencia"`
	TimestampEmergencia   string                    `json:"timestamp_emergencia"`
	ElevadoresEstado      []fleet.ElevatorStateWire `json:"elevadores_estado"`
}

// BuildFloorCallPayload serializes a FLOOR_CALL request together with the
// current fleet snapshot.
func BuildFloorCallPayload(buildingID string, req FloorCallRequest, group *fleet.Group) ([]byte, error) {
	return json.Marshal(floorCallPayload{
		IDEdificio:        buildingID,
		PisoOrigenLlamada: req.OriginFloor,
		DireccionLlamada:  req.RequestedDirection.wireLabel(),
		ElevadoresEstado:  group.Snapshot(),
	})
}

// BuildCabinRequestPayload serializes a CABIN_REQUEST together with the
// current fleet snapshot. requestingElevatorID is resolved by the caller
// (C6) from the bus index carried on the frame.
func BuildCabinRequestPayload(buildingID, requestingElevatorID string, req CabinRequest, group *fleet.Group) ([]byte, error) {
	return json.Marshal(cabinRequestPayload{
		IDEdificio:            buildingID,
		SolicitandoAscensorID: requestingElevatorID,
		PisoDestinoSolicitud:  req.TargetFloor,
		ElevadoresEstado:      group.Snapshot(),
	})
}

// BuildEmergencyPayload serializes an EMERGENCY request together with the
// current fleet snapshot. emergencyElevatorID is resolved by the caller
// from the bus index carried on the frame.
func BuildEmergencyPayload(buildingID, emergencyElevatorID string, req EmergencyRequest, group *fleet.Group) ([]byte, error) {
	var desc *string
	if req.Description != "" {
		desc = &req.Description
	}
	return json.Marshal(emergencyPayload{
		IDEdificio:            buildingID,
		AscensorIDEmergencia:  emergencyElevatorID,
		TipoEmergencia:        req.EmergencyType.wireLabel(),
		PisoActualEmergencia:  req.CurrentFloor,
		DescripcionEmergencia: desc,
		TimestampEmergencia:   req.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		ElevadoresEstado:      group.Snapshot(),
	})
}

// successReply mirrors the dispatcher's success body across all three
// resource paths.
type successReply struct {
	AscensorAsignadoID   string `json:"ascensor_asignado_id"`
	TareaID               string `json:"tarea_id"`
	PisoDestinoAsignado   int    `json:"piso_destino_asignado"`
	TiempoEstimadoLlegada *int   `json:"tiempo_estimado_llegada,omitempty"`
}

// errorReply mirrors the dispatcher's error body.
type errorReply struct {
	Error    string  `json:"error"`
	Message  string  `json:"message"`
	Expected *string `json:"expected"`
	Received *int    `json:"received"`
}

// ErrMalformedReply is returned when a dispatcher reply body matches
// neither the success nor the error shape, or when the success shape is
// missing a required field.
var ErrMalformedReply = errors.New("codec: malformed dispatcher reply")

// DispatcherError carries a parsed error reply for logging.
type DispatcherError struct {
	Error    string
	Message  string
	Expected string
	Received int
}

// ParseReply parses a dispatcher reply body into either an Assignment or a
// DispatcherError. isSuccess reflects the CoAP response code class (2.xx vs
// 4.xx/5.xx) as observed by the transport layer; it decides which shape is
// attempted first but both are tried as a fallback.
func ParseReply(body []byte, isSuccess bool) (*fleet.Assignment, *DispatcherError, error) {
	var sr successReply
	successErr := json.Unmarshal(body, &sr)
	validSuccess := successErr == nil && sr.AscensorAsignadoID != "" && sr.TareaID != ""

	var er errorReply
	errErr := json.Unmarshal(body, &er)
	validError := errErr == nil && er.Error != ""

	switch {
	case isSuccess && validSuccess:
		return toAssignment(sr), nil, nil
	case !isSuccess && validError:
		return nil, toDispatcherError(er), nil
	case validSuccess:
		return toAssignment(sr), nil, nil
	case validError:
		return nil, toDispatcherError(er), nil
	default:
		return nil, nil, ErrMalformedReply
	}
}

func toAssignment(sr successReply) *fleet.Assignment {
	return &fleet.Assignment{
		AssignedElevatorID:  sr.AscensorAsignadoID,
		TaskID:              sr.TareaID,
		AssignedTargetFloor: sr.PisoDestinoAsignado,
		EstimatedArrival:    sr.TiempoEstimadoLlegada,
	}
}

func toDispatcherError(er errorReply) *DispatcherError {
	de := &DispatcherError{Error: er.Error, Message: er.Message}
	if er.Expected != nil {
		de.Expected = *er.Expected
	}
	if er.Received != nil {
		de.Received = *er.Received
	}
	return de
}

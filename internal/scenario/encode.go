package scenario

import (
	"errors"
	"fmt"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
)

// ErrUnknownTipo is returned by EncodeFrame for a "tipo" value this
// gateway does not recognize.
var ErrUnknownTipo = errors.New("scenario: unknown tipo")

// emergencyCodes mirrors codec's EmergencyType wire vocabulary, mapped to
// its 1-indexed byte1 code.
var emergencyCodes = map[string]byte{
	"EMERGENCY_STOP":     1,
	"POWER_FAILURE":      2,
	"PEOPLE_TRAPPED":     3,
	"MECHANICAL_FAILURE": 4,
	"FIRE_ALARM":         5,
}

// EncodeFrame translates one scripted request into the raw bus frame a
// real cabin controller would have emitted. Scripted free-text fields
// (descripcion_emergencia, timestamp_emergencia) have no home on the
// physical bus -- an 11-bit id plus at most 8 data bytes -- so they are
// dropped at this boundary, same as they would be for a real frame.
// elevatorIndexByID maps an emergency's ascensor_id_emergencia to the bus
// index carried in the frame.
func EncodeFrame(r Request, elevatorIndexByID func(id string) int) (codec.BusFrame, error) {
	switch r.Tipo {
	case TipoLlamadaPiso:
		dir := byte(0)
		if r.Direccion == "down" {
			dir = 1
		}
		return codec.BusFrame{
			ID:   codec.FrameFloorCall,
			Data: []byte{clampByte(r.PisoOrigen), dir},
		}, nil

	case TipoSolicitudCabina:
		return codec.BusFrame{
			ID:   codec.FrameCabinRequest,
			Data: []byte{clampByte(r.IndiceAscensor), clampByte(r.PisoDestino)},
		}, nil

	case TipoLlamadaEmergencia:
		code, ok := emergencyCodes[r.TipoEmergencia]
		if !ok {
			return codec.BusFrame{}, fmt.Errorf("%w: emergency type %q", ErrUnknownTipo, r.TipoEmergencia)
		}
		idx := elevatorIndexByID(r.AscensorIDEmergencia)
		return codec.BusFrame{
			ID:   codec.FrameEmergencyBase,
			Data: []byte{clampByte(idx), code, clampByte(r.PisoActualEmergencia)},
		}, nil

	default:
		return codec.BusFrame{}, fmt.Errorf("%w: %q", ErrUnknownTipo, r.Tipo)
	}
}

// clampByte saturates an int into the [0,255] range a single data byte
// can carry.
func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

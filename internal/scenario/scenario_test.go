package scenario

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/bridge"
	"github.com/rafavidel1/elevator-gateway/internal/codec"
)

func TestLoad_ParsesAllThreeRequestTypes(t *testing.T) {
	doc := File{Edificios: []Building{{
		IDEdificio: "B1",
		Peticiones: []Request{
			{Tipo: TipoLlamadaPiso, PisoOrigen: 3, Direccion: "up"},
			{Tipo: TipoSolicitudCabina, IndiceAscensor: 0, PisoDestino: 7},
			{Tipo: TipoLlamadaEmergencia, AscensorIDEmergencia: "B1A1", TipoEmergencia: "FIRE_ALARM", PisoActualEmergencia: 2},
		},
	}}}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Edificios, 1)
	require.Len(t, loaded.Edificios[0].Peticiones, 3)
}

func TestEncodeFrame_FloorCall(t *testing.T) {
	f, err := EncodeFrame(Request{Tipo: TipoLlamadaPiso, PisoOrigen: 5, Direccion: "down"}, func(string) int { return -1 })
	require.NoError(t, err)
	require.Equal(t, codec.FrameFloorCall, f.ID)
	require.Equal(t, []byte{5, 1}, f.Data)
}

func TestEncodeFrame_CabinRequest(t *testing.T) {
	f, err := EncodeFrame(Request{Tipo: TipoSolicitudCabina, IndiceAscensor: 2, PisoDestino: 9}, func(string) int { return -1 })
	require.NoError(t, err)
	require.Equal(t, codec.FrameCabinRequest, f.ID)
	require.Equal(t, []byte{2, 9}, f.Data)
}

func TestEncodeFrame_Emergency_ResolvesIndexByID(t *testing.T) {
	f, err := EncodeFrame(Request{
		Tipo: TipoLlamadaEmergencia, AscensorIDEmergencia: "B1A2", TipoEmergencia: "PEOPLE_TRAPPED", PisoActualEmergencia: 4,
	}, func(id string) int {
		require.Equal(t, "B1A2", id)
		return 1
	})
	require.NoError(t, err)
	require.True(t, f.ID >= codec.FrameEmergencyBase && f.ID <= codec.FrameEmergencyMax)
	require.Equal(t, []byte{1, 3, 4}, f.Data)
}

func TestEncodeFrame_UnknownTipo(t *testing.T) {
	_, err := EncodeFrame(Request{Tipo: "algo_desconocido"}, func(string) int { return -1 })
	require.ErrorIs(t, err, ErrUnknownTipo)
}

func TestProducer_Run_DeliversReinitThenFramesInOrder(t *testing.T) {
	log := zap.NewNop()
	p := NewProducer(log, time.Millisecond, 10)

	f := &File{Edificios: []Building{{
		IDEdificio: "BX",
		Peticiones: []Request{
			{Tipo: TipoLlamadaPiso, PisoOrigen: 1, Direccion: "up"},
			{Tipo: TipoSolicitudCabina, IndiceAscensor: 0, PisoDestino: 3},
		},
	}}}

	out := make(chan bridge.InboundEvent, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Run(ctx, f, out))

	reinit := <-out
	require.NotNil(t, reinit.Reinit)
	require.Equal(t, "BX", reinit.Reinit.BuildingID)

	first := <-out
	require.NotNil(t, first.Frame)
	require.Equal(t, codec.FrameFloorCall, first.Frame.ID)
	second := <-out
	require.NotNil(t, second.Frame)
	require.Equal(t, codec.FrameCabinRequest, second.Frame.ID)
}

func TestIndexFromElevatorID(t *testing.T) {
	require.Equal(t, 0, indexFromElevatorID("BX", "BXA1"))
	require.Equal(t, 2, indexFromElevatorID("BX", "BXA3"))
	require.Equal(t, -1, indexFromElevatorID("BX", "OTHERA1"))
	require.Equal(t, -1, indexFromElevatorID("BX", "BXAnope"))
}

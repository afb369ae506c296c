package seed

import (
	"context"
	"errors"
	"testing"

	"can-bus-simulator/internal/labels"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/playback"
	"can-bus-simulator/internal/simulator"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*labels.Manager, *playback.Engine, *simulator.Generator) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gen := simulator.NewGenerator(nil, nil, simulator.DefaultOptions())
	manager := labels.NewManager(labels.NewRedisStore(client, "test"), gen, nil)
	return manager, playback.NewEngine(gen, playback.Options{}), gen
}

func TestRunSeedsEmptyStores(t *testing.T) {
	manager, engine, gen := setup(t)
	ctx := context.Background()

	result, err := New(manager, engine, 42, nil).Run(ctx)
	require.NoError(t, err)

	require.NotNil(t, result.Vehicle)
	assert.NotEmpty(t, result.Vehicle.Make)
	assert.Contains(t, regions, result.Vehicle.Region)
	assert.Equal(t, 4, result.Labels)
	assert.Equal(t, 2, result.Sequences)

	stored, err := manager.LabelsByVehicle(ctx, result.Vehicle.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	def, ok := gen.Registry().Get("Turn Signal Right")
	require.True(t, ok)
	assert.Equal(t, "0x1B4", def.ID)
	assert.Equal(t, "0200000000000000", def.OnPayload)

	info, err := engine.Info("Horn Test")
	require.NoError(t, err)
	assert.Equal(t, 4, info.MessageCount)
	assert.InDelta(t, 1.3, info.TotalDuration, 1e-9)

	assert.Equal(t, "Horn", manager.Lookup("0x1A2", "FF00000000000000"))
}

func TestRunIsIdempotent(t *testing.T) {
	manager, engine, _ := setup(t)
	ctx := context.Background()

	_, err := New(manager, engine, 1, nil).Run(ctx)
	require.NoError(t, err)

	result, err := New(manager, engine, 2, nil).Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, result.Vehicle)
	assert.Zero(t, result.Labels)
	assert.Zero(t, result.Sequences)

	vehicles, err := manager.Vehicles(ctx)
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
	assert.Len(t, engine.List(), 2)
}

func TestRunWithoutLabelStore(t *testing.T) {
	_, engine, _ := setup(t)

	result, err := New(nil, engine, 0, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.Vehicle)
	assert.Equal(t, 2, result.Sequences)
}

type failingLabels struct{}

func (failingLabels) Vehicles(context.Context) ([]models.Vehicle, error) {
	return nil, errors.New("connection refused")
}

func (failingLabels) CreateVehicle(context.Context, models.Vehicle) (models.Vehicle, error) {
	return models.Vehicle{}, nil
}

func (failingLabels) CreateLabel(context.Context, models.Label) (models.Label, error) {
	return models.Label{}, nil
}

func TestRunReportsStoreErrors(t *testing.T) {
	_, engine, _ := setup(t)

	_, err := New(failingLabels{}, engine, 0, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, engine.List())
}

func TestSampleDataIsValid(t *testing.T) {
	for _, l := range SampleLabels() {
		_, err := models.ParseID(l.CANID)
		assert.NoError(t, err, l.Name)
		_, err = models.DecodePayload(l.Data)
		assert.NoError(t, err, l.Name)
	}
	for _, seq := range SampleSequences() {
		for _, step := range seq.Steps {
			_, err := models.DecodePayload(step.Payload)
			assert.NoError(t, err, seq.Name)
		}
	}
}

// Package seed fills empty stores with sample data for development runs.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// LabelStore is the subset of labels.Manager the seeder writes to
type LabelStore interface {
	Vehicles(ctx context.Context) ([]models.Vehicle, error)
	CreateVehicle(ctx context.Context, v models.Vehicle) (models.Vehicle, error)
	CreateLabel(ctx context.Context, l models.Label) (models.Label, error)
}

// SequenceStore is the subset of playback.Engine the seeder writes to
type SequenceStore interface {
	List() []models.SequenceInfo
	CreateSequence(name string, steps []models.Step) error
}

// Result reports what a run created
type Result struct {
	Vehicle   *models.Vehicle
	Labels    int
	Sequences int
}

var regions = []string{"NA", "EU", "APAC", "LATAM"}

// SampleLabels are the labels created for the seeded vehicle
func SampleLabels() []models.Label {
	return []models.Label{
		{Name: "Horn", CANID: "0x1A2", Data: "FF00000000000000", Description: "Horn button pressed"},
		{Name: "Turn Signal Left", CANID: "0x1B4", Data: "0100000000000000", Description: "Left turn signal activated"},
		{Name: "Turn Signal Right", CANID: "0x1B4", Data: "0200000000000000", Description: "Right turn signal activated"},
		{Name: "Brake", CANID: "0x224", Data: "FF000000FFFF0000", Description: "Brake pedal pressed"},
	}
}

// SampleSequences are the playback sequences created when none exist
func SampleSequences() []models.Sequence {
	return []models.Sequence{
		{
			Name: "Turn Signals Test",
			Steps: []models.Step{
				{ID: "0x1B4", Payload: "0100000000000000", Delay: 0.5},
				{ID: "0x1B4", Payload: "0000000000000000", Delay: 1.0},
				{ID: "0x1B4", Payload: "0200000000000000", Delay: 0.5},
				{ID: "0x1B4", Payload: "0000000000000000", Delay: 0.5},
			},
		},
		{
			Name: "Horn Test",
			Steps: []models.Step{
				{ID: "0x1A2", Payload: "FF00000000000000", Delay: 0.3},
				{ID: "0x1A2", Payload: "0000000000000000", Delay: 0.5},
				{ID: "0x1A2", Payload: "FF00000000000000", Delay: 0.3},
				{ID: "0x1A2", Payload: "0000000000000000", Delay: 0.2},
			},
		},
	}
}

// Seeder creates development data. Labels may be nil when no label store is configured.
type Seeder struct {
	labels    LabelStore
	sequences SequenceStore
	faker     *gofakeit.Faker
	logger    *slog.Logger
}

// New creates a seeder. A zero seed picks a random one.
func New(labels LabelStore, sequences SequenceStore, seed int64, logger *slog.Logger) *Seeder {
	return &Seeder{
		labels:    labels,
		sequences: sequences,
		faker:     gofakeit.New(seed),
		logger:    logging.OrDefault(logger).With(logging.Component("seed")),
	}
}

// Run seeds a vehicle with sample labels when the label store has no
// vehicles, and the sample sequences when no sequence is stored
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	var result Result

	if s.labels != nil {
		vehicles, err := s.labels.Vehicles(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list vehicles: %w", err)
		}
		if len(vehicles) == 0 {
			if err := s.seedLabels(ctx, &result); err != nil {
				return result, err
			}
		}
	}

	if s.sequences != nil && len(s.sequences.List()) == 0 {
		for _, seq := range SampleSequences() {
			if err := s.sequences.CreateSequence(seq.Name, seq.Steps); err != nil {
				return result, fmt.Errorf("failed to create sequence %q: %w", seq.Name, err)
			}
			result.Sequences++
		}
		s.logger.Info("Created test playback sequences", logging.Count(result.Sequences))
	}

	return result, nil
}

func (s *Seeder) seedLabels(ctx context.Context, result *Result) error {
	vehicle, err := s.labels.CreateVehicle(ctx, s.fakeVehicle())
	if err != nil {
		return fmt.Errorf("failed to create test vehicle: %w", err)
	}
	result.Vehicle = &vehicle
	s.logger.Info("Created test vehicle",
		slog.String("make", vehicle.Make),
		slog.String("model", vehicle.Model),
		slog.String("year", vehicle.Year))

	for _, l := range SampleLabels() {
		l.VehicleID = vehicle.ID
		if _, err := s.labels.CreateLabel(ctx, l); err != nil {
			return fmt.Errorf("failed to create label %q: %w", l.Name, err)
		}
		result.Labels++
	}
	s.logger.Info("Created test labels", logging.Count(result.Labels))
	return nil
}

func (s *Seeder) fakeVehicle() models.Vehicle {
	return models.Vehicle{
		Make:   s.faker.CarMaker(),
		Model:  s.faker.CarModel(),
		Year:   strconv.Itoa(s.faker.Number(2008, 2024)),
		Region: s.faker.RandomString(regions),
	}
}

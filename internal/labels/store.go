package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"can-bus-simulator/internal/models"
)

// ErrNotFound is returned for a missing label or vehicle
var ErrNotFound = errors.New("not found")

// DefaultPrefix namespaces every key written by the store
const DefaultPrefix = "cansim"

// Connect parses a redis:// URL and verifies the server answers
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// RedisStore persists labels and vehicles as JSON values with set indexes
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new store using client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) labelKey(id string) string {
	return s.prefix + ":label:" + id
}

func (s *RedisStore) labelsKey() string {
	return s.prefix + ":labels"
}

func (s *RedisStore) vehicleKey(id string) string {
	return s.prefix + ":vehicle:" + id
}

func (s *RedisStore) vehiclesKey() string {
	return s.prefix + ":vehicles"
}

func (s *RedisStore) vehicleLabelsKey(id string) string {
	return s.prefix + ":vehicle:" + id + ":labels"
}

// SaveVehicle creates or replaces a vehicle, assigning an id when empty
func (s *RedisStore) SaveVehicle(ctx context.Context, v models.Vehicle) (models.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("failed to marshal vehicle: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.vehicleKey(v.ID), raw, 0)
	pipe.SAdd(ctx, s.vehiclesKey(), v.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Vehicle{}, fmt.Errorf("failed to save vehicle: %w", err)
	}

	return v, nil
}

// GetVehicle returns the vehicle with id
func (s *RedisStore) GetVehicle(ctx context.Context, id string) (models.Vehicle, error) {
	var v models.Vehicle
	if err := s.getJSON(ctx, s.vehicleKey(id), &v); err != nil {
		return models.Vehicle{}, err
	}
	return v, nil
}

// ListVehicles returns every vehicle sorted by make, model and year
func (s *RedisStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	ids, err := s.client.SMembers(ctx, s.vehiclesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}

	vehicles := make([]models.Vehicle, 0, len(ids))
	for _, id := range ids {
		v, err := s.GetVehicle(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}

	sort.Slice(vehicles, func(i, j int) bool {
		a, b := vehicles[i], vehicles[j]
		if a.Make != b.Make {
			return a.Make < b.Make
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Year < b.Year
	})
	return vehicles, nil
}

// SaveLabel creates or replaces a label, assigning an id when empty
func (s *RedisStore) SaveLabel(ctx context.Context, l models.Label) (models.Label, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}

	previous, err := s.GetLabel(ctx, l.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Label{}, err
	}

	raw, err := json.Marshal(l)
	if err != nil {
		return models.Label{}, fmt.Errorf("failed to marshal label: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.labelKey(l.ID), raw, 0)
	pipe.SAdd(ctx, s.labelsKey(), l.ID)
	if previous.VehicleID != "" && previous.VehicleID != l.VehicleID {
		pipe.SRem(ctx, s.vehicleLabelsKey(previous.VehicleID), l.ID)
	}
	if l.VehicleID != "" {
		pipe.SAdd(ctx, s.vehicleLabelsKey(l.VehicleID), l.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Label{}, fmt.Errorf("failed to save label: %w", err)
	}

	return l, nil
}

// GetLabel returns the label with id
func (s *RedisStore) GetLabel(ctx context.Context, id string) (models.Label, error) {
	var l models.Label
	if err := s.getJSON(ctx, s.labelKey(id), &l); err != nil {
		return models.Label{}, err
	}
	return l, nil
}

// DeleteLabel removes the label with id
func (s *RedisStore) DeleteLabel(ctx context.Context, id string) (models.Label, error) {
	l, err := s.GetLabel(ctx, id)
	if err != nil {
		return models.Label{}, err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.labelKey(id))
	pipe.SRem(ctx, s.labelsKey(), id)
	if l.VehicleID != "" {
		pipe.SRem(ctx, s.vehicleLabelsKey(l.VehicleID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Label{}, fmt.Errorf("failed to delete label: %w", err)
	}

	return l, nil
}

// ListLabels returns every label sorted by name
func (s *RedisStore) ListLabels(ctx context.Context) ([]models.Label, error) {
	return s.labelsIn(ctx, s.labelsKey())
}

// LabelsByVehicle returns the labels attached to a vehicle, sorted by name
func (s *RedisStore) LabelsByVehicle(ctx context.Context, vehicleID string) ([]models.Label, error) {
	return s.labelsIn(ctx, s.vehicleLabelsKey(vehicleID))
}

// CountLabels returns the number of stored labels
func (s *RedisStore) CountLabels(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.labelsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count labels: %w", err)
	}
	return n, nil
}

func (s *RedisStore) labelsIn(ctx context.Context, setKey string) ([]models.Label, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	labels := make([]models.Label, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetLabel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Name != labels[j].Name {
			return labels[i].Name < labels[j].Name
		}
		return labels[i].ID < labels[j].ID
	})
	return labels, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

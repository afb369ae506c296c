// Package labels keeps the user's id+payload labels and vehicles in Redis,
// mirrors every label into the event registry and annotates live frames.
package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/models"
)

// ErrInvalid is returned for a label or vehicle missing required fields
var ErrInvalid = errors.New("invalid label data")

// ExportDateLayout formats the export_date field
const ExportDateLayout = "2006-01-02 15:04:05"

// EventSink receives label mappings as simulator events
type EventSink interface {
	AddEvent(name, id, onPayload, offPayload string) models.EventDefinition
}

// ExportDocument is the label exchange format
type ExportDocument struct {
	Vehicle    *models.Vehicle `json:"vehicle,omitempty"`
	Labels     []models.Label  `json:"labels"`
	ExportDate string          `json:"export_date,omitempty"`
}

// Manager coordinates the store, the event registry and the frame label index
type Manager struct {
	store  *RedisStore
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	index map[models.FrameKey]string
}

// NewManager creates a new label manager. sink may be nil.
func NewManager(store *RedisStore, sink EventSink, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		sink:   sink,
		logger: logging.OrDefault(logger).With(logging.Component("labels")),
		now:    time.Now,
		index:  make(map[models.FrameKey]string),
	}
}

// Sync loads every stored label into the lookup index and the event registry
func (m *Manager) Sync(ctx context.Context) error {
	labels, err := m.store.ListLabels(ctx)
	if err != nil {
		return err
	}

	index := make(map[models.FrameKey]string, len(labels))
	for _, l := range labels {
		index[models.FrameKey{ID: l.CANID, Payload: l.Data}] = l.Name
		m.mirror(l)
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()

	m.logger.Info("Labels synchronized", logging.Count(len(labels)))
	return nil
}

// Lookup returns the label name for a frame, or "" when unlabeled
func (m *Manager) Lookup(id, payload string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index[models.FrameKey{ID: id, Payload: payload}]
}

func (m *Manager) mirror(l models.Label) {
	if m.sink != nil {
		m.sink.AddEvent(l.Name, l.CANID, l.Data, "")
	}
}

func (m *Manager) indexLabel(l models.Label) {
	m.mu.Lock()
	m.index[models.FrameKey{ID: l.CANID, Payload: l.Data}] = l.Name
	m.mu.Unlock()
}

func (m *Manager) unindexLabel(l models.Label) {
	key := models.FrameKey{ID: l.CANID, Payload: l.Data}
	m.mu.Lock()
	if m.index[key] == l.Name {
		delete(m.index, key)
	}
	m.mu.Unlock()
}

func validateLabel(l models.Label) error {
	if strings.TrimSpace(l.Name) == "" || l.CANID == "" || l.Data == "" {
		return fmt.Errorf("%w: name, can_id and data are required", ErrInvalid)
	}
	if _, err := models.ParseID(l.CANID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// CreateLabel stores a new label and registers it as an event
func (m *Manager) CreateLabel(ctx context.Context, l models.Label) (models.Label, error) {
	if err := validateLabel(l); err != nil {
		return models.Label{}, err
	}
	if l.VehicleID != "" {
		if _, err := m.store.GetVehicle(ctx, l.VehicleID); err != nil {
			return models.Label{}, fmt.Errorf("vehicle %s: %w", l.VehicleID, err)
		}
	}

	l.ID = ""
	l.CreatedAt = time.Time{}
	saved, err := m.store.SaveLabel(ctx, l)
	if err != nil {
		m.logger.Error("Error creating label", logging.Error(err))
		return models.Label{}, err
	}

	m.indexLabel(saved)
	m.mirror(saved)

	m.logger.Info("Created label", slog.String("name", saved.Name), logging.FrameID(saved.CANID))
	return saved, nil
}

// UpdateLabel merges the non-empty fields of update into the label with id
func (m *Manager) UpdateLabel(ctx context.Context, id string, update models.Label) (models.Label, error) {
	existing, err := m.store.GetLabel(ctx, id)
	if err != nil {
		m.logger.Warn("Label not found", slog.String("label_id", id))
		return models.Label{}, err
	}

	merged := existing
	if update.Name != "" {
		merged.Name = update.Name
	}
	if update.CANID != "" {
		merged.CANID = update.CANID
	}
	if update.Data != "" {
		merged.Data = update.Data
	}
	if update.VehicleID != "" {
		merged.VehicleID = update.VehicleID
	}
	if update.Description != "" {
		merged.Description = update.Description
	}
	if err := validateLabel(merged); err != nil {
		return models.Label{}, err
	}

	saved, err := m.store.SaveLabel(ctx, merged)
	if err != nil {
		return models.Label{}, err
	}

	m.unindexLabel(existing)
	m.indexLabel(saved)
	m.mirror(saved)

	m.logger.Info("Updated label", slog.String("label_id", id))
	return saved, nil
}

// DeleteLabel removes a label. The mirrored event stays in the registry.
func (m *Manager) DeleteLabel(ctx context.Context, id string) error {
	deleted, err := m.store.DeleteLabel(ctx, id)
	if err != nil {
		m.logger.Warn("Label not found for deletion", slog.String("label_id", id))
		return err
	}

	m.unindexLabel(deleted)
	m.logger.Info("Deleted label", slog.String("label_id", id))
	return nil
}

// GetLabel returns the label with id
func (m *Manager) GetLabel(ctx context.Context, id string) (models.Label, error) {
	return m.store.GetLabel(ctx, id)
}

// ListLabels returns every label
func (m *Manager) ListLabels(ctx context.Context) ([]models.Label, error) {
	return m.store.ListLabels(ctx)
}

// LabelsByVehicle returns the labels of one vehicle
func (m *Manager) LabelsByVehicle(ctx context.Context, vehicleID string) ([]models.Label, error) {
	return m.store.LabelsByVehicle(ctx, vehicleID)
}

// CreateVehicle stores a new vehicle
func (m *Manager) CreateVehicle(ctx context.Context, v models.Vehicle) (models.Vehicle, error) {
	if strings.TrimSpace(v.Make) == "" || strings.TrimSpace(v.Model) == "" {
		return models.Vehicle{}, fmt.Errorf("%w: make and model are required", ErrInvalid)
	}
	v.ID = ""
	saved, err := m.store.SaveVehicle(ctx, v)
	if err != nil {
		return models.Vehicle{}, err
	}
	m.logger.Info("Created vehicle", slog.String("make", saved.Make), slog.String("model", saved.Model))
	return saved, nil
}

// Vehicles returns every vehicle
func (m *Manager) Vehicles(ctx context.Context) ([]models.Vehicle, error) {
	return m.store.ListVehicles(ctx)
}

// Search matches the term against label name and description and the
// vehicle fields exactly. Labels without a vehicle only match when no
// vehicle filter is given.
func (m *Manager) Search(ctx context.Context, q models.LabelSearch) ([]models.LabelWithVehicle, error) {
	labels, err := m.store.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	vehicles, err := m.vehicleMap(ctx)
	if err != nil {
		return nil, err
	}

	vehicleFilter := q.Make != "" || q.Model != "" || q.Year != "" || q.Region != ""
	term := strings.ToLower(q.Term)

	results := make([]models.LabelWithVehicle, 0)
	for _, l := range labels {
		if term != "" &&
			!strings.Contains(strings.ToLower(l.Name), term) &&
			!strings.Contains(strings.ToLower(l.Description), term) {
			continue
		}

		v, ok := vehicles[l.VehicleID]
		if vehicleFilter {
			if !ok || !matchVehicle(v, q.Make, q.Model, q.Year, q.Region) {
				continue
			}
		}

		row := models.LabelWithVehicle{Label: l}
		if ok {
			vc := v
			row.Vehicle = &vc
		}
		results = append(results, row)
	}
	return results, nil
}

func matchVehicle(v models.Vehicle, mk, model, year, region string) bool {
	return (mk == "" || v.Make == mk) &&
		(model == "" || v.Model == model) &&
		(year == "" || v.Year == year) &&
		(region == "" || v.Region == region)
}

func (m *Manager) vehicleMap(ctx context.Context) (map[string]models.Vehicle, error) {
	vehicles, err := m.store.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		out[v.ID] = v
	}
	return out, nil
}

// Export returns the labels of one vehicle, or all labels when vehicleID is empty
func (m *Manager) Export(ctx context.Context, vehicleID string) (ExportDocument, error) {
	doc := ExportDocument{ExportDate: m.now().Format(ExportDateLayout)}

	if vehicleID == "" {
		labels, err := m.store.ListLabels(ctx)
		if err != nil {
			return ExportDocument{}, err
		}
		doc.Labels = labels
		return doc, nil
	}

	v, err := m.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return ExportDocument{}, fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	labels, err := m.store.LabelsByVehicle(ctx, vehicleID)
	if err != nil {
		return ExportDocument{}, err
	}
	doc.Vehicle = &v
	doc.Labels = labels

	m.logger.Info("Exported labels", logging.Count(len(labels)), slog.String("vehicle_id", vehicleID))
	return doc, nil
}

// Import adds the document's labels. A label whose name already exists for
// the same vehicle is updated when overwrite is set and skipped otherwise.
func (m *Manager) Import(ctx context.Context, doc ExportDocument, overwrite bool) (models.ImportStats, error) {
	var stats models.ImportStats

	vehicleID := ""
	if doc.Vehicle != nil {
		v, err := m.resolveVehicle(ctx, *doc.Vehicle)
		if err != nil {
			return stats, err
		}
		vehicleID = v.ID
	}

	existing, err := m.store.ListLabels(ctx)
	if err != nil {
		return stats, err
	}
	byName := make(map[string]models.Label, len(existing))
	for _, l := range existing {
		byName[l.VehicleID+"\x00"+l.Name] = l
	}

	for _, in := range doc.Labels {
		labelVehicle := in.VehicleID
		// Vehicle ids from another installation are meaningless here
		if doc.Vehicle != nil {
			labelVehicle = vehicleID
		}

		current, found := byName[labelVehicle+"\x00"+in.Name]
		switch {
		case found && overwrite:
			updated, err := m.UpdateLabel(ctx, current.ID, models.Label{
				CANID:       in.CANID,
				Data:        in.Data,
				Description: in.Description,
			})
			if err != nil {
				m.logger.Error("Error processing label during import", logging.Error(err))
				stats.Errors++
				continue
			}
			byName[labelVehicle+"\x00"+in.Name] = updated
			stats.Updated++
		case found:
			stats.Skipped++
		default:
			created, err := m.CreateLabel(ctx, models.Label{
				Name:        in.Name,
				CANID:       in.CANID,
				Data:        in.Data,
				VehicleID:   labelVehicle,
				Description: in.Description,
			})
			if err != nil {
				m.logger.Error("Error processing label during import", logging.Error(err))
				stats.Errors++
				continue
			}
			byName[labelVehicle+"\x00"+in.Name] = created
			stats.Added++
		}
	}

	m.logger.Info("Imported labels",
		slog.Int("added", stats.Added),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors))
	return stats, nil
}

// resolveVehicle finds a stored vehicle matching the given fields or creates one
func (m *Manager) resolveVehicle(ctx context.Context, v models.Vehicle) (models.Vehicle, error) {
	vehicles, err := m.store.ListVehicles(ctx)
	if err != nil {
		return models.Vehicle{}, err
	}
	for _, stored := range vehicles {
		if matchVehicle(stored, v.Make, v.Model, v.Year, v.Region) {
			return stored, nil
		}
	}

	created := models.Vehicle{
		Make:   orUnknown(v.Make),
		Model:  orUnknown(v.Model),
		Year:   orUnknown(v.Year),
		Region: orUnknown(v.Region),
	}
	return m.store.SaveVehicle(ctx, created)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

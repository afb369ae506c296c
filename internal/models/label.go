package models

import "time"

// Label associates a CAN id+payload with a user-meaningful name
type Label struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CANID       string    `json:"can_id"`
	Data        string    `json:"data"`
	VehicleID   string    `json:"vehicle_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Vehicle groups labels by make, model, year and region
type Vehicle struct {
	ID        string    `json:"id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      string    `json:"year"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// LabelSearch holds optional label search filters
type LabelSearch struct {
	Term   string
	Make   string
	Model  string
	Year   string
	Region string
}

// LabelWithVehicle is a search result row
type LabelWithVehicle struct {
	Label
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

// ImportStats reports the outcome of a label import
type ImportStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

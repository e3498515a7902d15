// Package worldstate keeps a snapshot of the vehicle context that agents
// consult when answering: location, speed, cabin settings and media state.
package worldstate

import (
	"sync"
	"time"
)

// Location is a GPS fix with an optional resolved place name.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Place     string  `json:"place,omitempty"`
}

// Cabin holds climate and window state.
type Cabin struct {
	TemperatureC float64 `json:"temperature_c"`
	ACOn         bool    `json:"ac_on"`
	WindowsOpen  bool    `json:"windows_open"`
}

// Media holds the playback state the music agent reports against.
type Media struct {
	Playing bool   `json:"playing"`
	Track   string `json:"track,omitempty"`
	Artist  string `json:"artist,omitempty"`
	Volume  int    `json:"volume"`
}

// Snapshot is an immutable copy of the vehicle state at one instant.
type Snapshot struct {
	Location  Location  `json:"location"`
	SpeedKMH  float64   `json:"speed_kmh"`
	Cabin     Cabin     `json:"cabin"`
	Media     Media     `json:"media"`
	UpdatedAt time.Time `json:"updated_at"`
}

// World is the mutable holder. Setters replace one section atomically;
// Snapshot returns a consistent copy.
type World struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New creates an empty world.
func New() *World {
	return &World{snap: Snapshot{UpdatedAt: time.Now()}}
}

// SetLocation replaces the location fix.
func (w *World) SetLocation(loc Location) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.Location = loc
	w.snap.UpdatedAt = time.Now()
}

// SetSpeed replaces the vehicle speed in km/h.
func (w *World) SetSpeed(kmh float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.SpeedKMH = kmh
	w.snap.UpdatedAt = time.Now()
}

// SetCabin replaces the cabin state.
func (w *World) SetCabin(c Cabin) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.Cabin = c
	w.snap.UpdatedAt = time.Now()
}

// SetMedia replaces the media playback state.
func (w *World) SetMedia(m Media) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.Media = m
	w.snap.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the current state.
func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap
}

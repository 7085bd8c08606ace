package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config selects and configures a driver.
//
// If Driver is empty, the file driver is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TenantConfig is the reminder configuration of one tenant.
//
// DestinationID is empty when no destination was ever pinned. Enabled without
// a destination is tolerated (an externally edited file can produce it); the
// dispatcher skips such tenants.
type TenantConfig struct {
	Enabled       bool
	DestinationID string
}

func (c TenantConfig) HasDestination() bool { return c.DestinationID != "" }

// Dispatchable reports whether a tick should notify this tenant.
func (c TenantConfig) Dispatchable() bool { return c.Enabled && c.HasDestination() }

// tenantWire is the persisted shape: {"enabled": bool, "channelId": string|null}.
type tenantWire struct {
	Enabled   bool    `json:"enabled"`
	ChannelID *string `json:"channelId"`
}

func (c TenantConfig) MarshalJSON() ([]byte, error) {
	w := tenantWire{Enabled: c.Enabled}
	if c.DestinationID != "" {
		id := c.DestinationID
		w.ChannelID = &id
	}
	return json.Marshal(w)
}

func (c *TenantConfig) UnmarshalJSON(b []byte) error {
	var w tenantWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	c.Enabled = w.Enabled
	c.DestinationID = ""
	if w.ChannelID != nil {
		c.DestinationID = *w.ChannelID
	}
	return nil
}

// Table maps tenant id to its configuration.
type Table map[string]TenantConfig

// Get returns the tenant's configuration. Absent tenants are disabled with no destination.
func (t Table) Get(tenantID string) TenantConfig {
	return t[tenantID]
}

// Clone returns an independent copy of t (never nil).
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// TenantIDs returns the tenant ids in ascending order.
func (t Table) TenantIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is the persistence API used by the command router and the scheduler.
type Store interface {
	// Load returns the persisted table, or an empty table when it is missing or unreadable.
	Load(ctx context.Context) Table
	// Save overwrites the persisted table with t.
	Save(ctx context.Context, t Table) error
	Close() error
}

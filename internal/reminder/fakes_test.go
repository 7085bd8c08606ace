package reminder

import (
	"context"
	"errors"
	"sync"

	"remindbot/internal/storage"
	"remindbot/internal/transport"
)

// fakeChannels resolves and records sends in memory.
type fakeChannels struct {
	mu        sync.Mutex
	dests     map[string]transport.Destination
	resolveEr map[string]error
	sendErr   map[string]error
	sent      map[string][]string
}

func newFakeChannels(ids ...string) *fakeChannels {
	f := &fakeChannels{
		dests:     map[string]transport.Destination{},
		resolveEr: map[string]error{},
		sendErr:   map[string]error{},
		sent:      map[string][]string{},
	}
	for _, id := range ids {
		f.dests[id] = transport.Destination{ID: id, Kind: "text", Textable: true}
	}
	return f
}

func (f *fakeChannels) Resolve(ctx context.Context, id string) (transport.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resolveEr[id]; err != nil {
		return transport.Destination{}, err
	}
	d, ok := f.dests[id]
	if !ok {
		return transport.Destination{}, transport.ErrNotFound
	}
	return d, nil
}

func (f *fakeChannels) SendText(ctx context.Context, to transport.Destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[to.ID]; err != nil {
		return err
	}
	f.sent[to.ID] = append(f.sent[to.ID], text)
	return nil
}

func (f *fakeChannels) sentTo(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[id]...)
}

// failingStore loads from an inner store but refuses to save.
type failingStore struct {
	storage.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) Save(ctx context.Context, t storage.Table) error { return errDiskFull }

func cmd(tenant, origin, sub string) transport.Interaction {
	return transport.Interaction{ID: "i-1", TenantID: tenant, OriginID: origin, UserID: "U1", Subcommand: sub}
}

package machine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/srand/fgmachine/pkg/coordinator"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

// Identity is the coordinator's description of this machine. Until the
// machine has registered it holds the locally discovered specification.
type Identity struct {
	mu  sync.RWMutex
	doc map[string]any
}

func NewIdentity(doc map[string]any) *Identity {
	if doc == nil {
		doc = map[string]any{}
	}
	return &Identity{doc: doc}
}

// ID returns the id assigned by the coordinator, or "" before registration.
func (i *Identity) ID() string {
	return i.field("_id")
}

// Address returns the URL at which the coordinator reaches the machine.
func (i *Identity) Address() string {
	return i.field("address")
}

func (i *Identity) Registered() bool {
	return i.ID() != ""
}

func (i *Identity) field(name string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if value, ok := i.doc[name].(string); ok {
		return value
	}
	return ""
}

func (i *Identity) set(doc map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.doc = doc
}

func (i *Identity) MarshalJSON() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return json.Marshal(i.doc)
}

func decodeDocument(data []byte) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParse, err)
	}
	return doc, nil
}

func toDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

// IdentityStore persists the identity between runs of the agent.
type IdentityStore struct {
	fs   utils.Fs
	path string
}

func NewIdentityStore(fs utils.Fs, path string) *IdentityStore {
	return &IdentityStore{fs: fs, path: path}
}

// Load returns utils.ErrNotFound if no identity has been saved.
func (s *IdentityStore) Load() (*Identity, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return NewIdentity(doc), nil
}

func (s *IdentityStore) Save(identity *Identity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0777); err != nil {
			return err
		}
	}
	return afero.WriteFile(s.fs, s.path, data, 0666)
}

// Bootstrap loads the cached identity. If there is none, the machine
// is described from the host and registered with the coordinator in
// the background. The returned identity is usable immediately and is
// updated once registration succeeds.
func Bootstrap(ctx context.Context, store *IdentityStore, client coordinator.Client, address string) (*Identity, <-chan struct{}) {
	done := make(chan struct{})

	identity, err := store.Load()
	if err == nil {
		log.Info("Loaded machine identity", identity.ID())
		close(done)
		return identity, done
	}
	if !errors.Is(err, utils.ErrNotFound) {
		log.Warn("Ignoring unreadable machine identity:", err)
	}

	specs := Discover(address)
	specs.Log()

	doc, err := toDocument(specs)
	if err != nil {
		log.Error("Failed to encode machine specification:", err)
		doc = map[string]any{"address": address}
	}
	identity = NewIdentity(doc)

	go func() {
		defer close(done)
		Register(ctx, store, client, identity, specs)
	}()

	return identity, done
}

// Register sends the specification to the coordinator and adopts and
// saves the coordinator's response as the machine identity.
func Register(ctx context.Context, store *IdentityStore, client coordinator.Client, identity *Identity, specs *Specs) error {
	response, err := client.RegisterMachine(ctx, specs)
	if err != nil {
		log.Error("Failed to register with coordinator:", err)
		return err
	}

	doc, err := decodeDocument(response)
	if err != nil {
		log.Error("Invalid registration response:", err)
		return err
	}

	identity.set(doc)
	log.Info("Registered with coordinator successfully, id:", identity.ID())

	if err := store.Save(identity); err != nil {
		log.Error("Failed to save machine identity:", err)
		return err
	}
	return nil
}

package packedstore

import (
	"context"
	"encoding/json"
	"sync"

	store "github.com/sharedcode/objectstore"
)

// jsonEntry is one logical key's container assignment, matching the persisted master
// format of spec.md §6: {parentPath, path, encrypted}.
type jsonEntry struct {
	ContainerKey store.Key `json:"parentPath"`
	Path         store.Key `json:"path"`
	Encrypted    bool      `json:"encrypted"`
}

type jsonContainerMeta struct {
	Count     int
	Encrypted bool
}

// JsonPacked packs blobs as values of a JSON object per container, bounded by
// maxEntries entries per container (spec.md §4.7).
type JsonPacked struct {
	mu         sync.Mutex
	backend    store.BlobStore
	opts       Options
	maxEntries int
	masterKey  store.Key

	loaded     bool
	entries    map[store.Key]jsonEntry
	containers map[store.Key]*jsonContainerMeta
}

// NewJson wraps backend with json-packed storage. maxEntries <= 0 means a container may
// hold an unbounded number of entries.
func NewJson(backend store.BlobStore, maxEntries int, opts Options) *JsonPacked {
	masterKey := opts.MasterKey
	if masterKey == "" {
		masterKey = joinRoot(opts.Root, "jm-master.json")
	}
	return &JsonPacked{
		backend:    backend,
		opts:       opts,
		maxEntries: maxEntries,
		masterKey:  masterKey,
	}
}

func (p *JsonPacked) ensureLoadedLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	blob, ok, err := p.backend.Get(ctx, p.masterKey, true)
	if err != nil {
		return store.ErrBackend(p.masterKey, err)
	}
	p.entries = make(map[store.Key]jsonEntry)
	p.containers = make(map[store.Key]*jsonContainerMeta)
	if !ok {
		p.loaded = true
		return nil
	}
	var list []jsonEntry
	if err := json.Unmarshal([]byte(blob.Value), &list); err != nil {
		return store.ErrMasterCorrupt(err)
	}
	for _, e := range list {
		p.entries[e.Path] = e
		cm := p.containers[e.ContainerKey]
		if cm == nil {
			cm = &jsonContainerMeta{Encrypted: e.Encrypted}
			p.containers[e.ContainerKey] = cm
		}
		cm.Count++
	}
	p.loaded = true
	return nil
}

func (p *JsonPacked) saveMasterLocked(ctx context.Context) error {
	list := make([]jsonEntry, 0, len(p.entries))
	for _, e := range p.entries {
		list = append(list, e)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := p.backend.Put(ctx, p.masterKey, string(data), true); err != nil {
		return store.ErrBackend(p.masterKey, err)
	}
	return nil
}

// loadContainerObjLocked fetches and parses containerKey's JSON object. A parse
// failure on the container body (not the master) is treated as an empty object and
// logged, per spec.md §7, to preserve forward progress when a single container
// corrupts.
func (p *JsonPacked) loadContainerObjLocked(ctx context.Context, containerKey store.Key, encrypted bool) (map[string]string, error) {
	blob, ok, err := p.backend.Get(ctx, containerKey, encrypted)
	if err != nil {
		return nil, store.ErrBackend(containerKey, err)
	}
	if !ok {
		return map[string]string{}, nil
	}
	var obj map[string]string
	if err := json.Unmarshal([]byte(blob.Value), &obj); err != nil {
		warnCorruptContainer(containerKey, err)
		return map[string]string{}, nil
	}
	if obj == nil {
		obj = map[string]string{}
	}
	return obj, nil
}

// Get implements store.BlobStore.
func (p *JsonPacked) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return store.Blob{}, false, err
	}
	e, ok := p.entries[key]
	if !ok {
		return store.Blob{}, false, nil
	}
	obj, err := p.loadContainerObjLocked(ctx, e.ContainerKey, e.Encrypted)
	if err != nil {
		return store.Blob{}, false, err
	}
	val, ok := obj[key]
	if !ok {
		return store.Blob{}, false, nil
	}
	return store.Blob{Value: val, Encrypted: e.Encrypted}, true, nil
}

// Put implements store.BlobStore: allocates a new entry, or updates an existing one
// in place, per spec.md §4.7.
func (p *JsonPacked) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	if old, ok := p.entries[key]; ok && old.Encrypted == encrypted {
		obj, err := p.loadContainerObjLocked(ctx, old.ContainerKey, old.Encrypted)
		if err != nil {
			return err
		}
		obj[key] = value
		if err := p.writeContainerLocked(ctx, old.ContainerKey, obj); err != nil {
			return err
		}
		if cm := p.containers[old.ContainerKey]; cm != nil {
			cm.Count = len(obj)
		}
		return p.saveMasterLocked(ctx)
	}

	if old, ok := p.entries[key]; ok {
		// encrypted flag changed: remove from its current container first.
		if err := p.removeFromContainerLocked(ctx, old); err != nil {
			return err
		}
	}

	if err := p.allocateLocked(ctx, key, value, encrypted); err != nil {
		return err
	}
	return p.saveMasterLocked(ctx)
}

func (p *JsonPacked) writeContainerLocked(ctx context.Context, containerKey store.Key, obj map[string]string) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	cm := p.containers[containerKey]
	encrypted := cm != nil && cm.Encrypted
	if err := p.backend.Put(ctx, containerKey, string(data), encrypted); err != nil {
		return store.ErrBackend(containerKey, err)
	}
	return nil
}

// allocateLocked finds a container matching encrypted with spare capacity, or creates a
// new one. Containers are scanned in map order, so which of several containers with
// spare capacity is used is not defined.
func (p *JsonPacked) allocateLocked(ctx context.Context, key store.Key, value string, encrypted bool) error {
	for containerKey, cm := range p.containers {
		if cm.Encrypted != encrypted {
			continue
		}
		if p.maxEntries > 0 && cm.Count >= p.maxEntries {
			continue
		}
		obj, err := p.loadContainerObjLocked(ctx, containerKey, encrypted)
		if err != nil {
			return err
		}
		obj[key] = value
		if err := p.writeContainerLocked(ctx, containerKey, obj); err != nil {
			return err
		}
		cm.Count = len(obj)
		p.entries[key] = jsonEntry{ContainerKey: containerKey, Path: key, Encrypted: encrypted}
		return nil
	}

	containerKey := newContainerKey(p.opts.Root)
	obj := map[string]string{key: value}
	// Register the container first so writeContainerLocked writes it with its flag.
	p.containers[containerKey] = &jsonContainerMeta{Count: 1, Encrypted: encrypted}
	if err := p.writeContainerLocked(ctx, containerKey, obj); err != nil {
		delete(p.containers, containerKey)
		return err
	}
	p.entries[key] = jsonEntry{ContainerKey: containerKey, Path: key, Encrypted: encrypted}
	return nil
}

// removeFromContainerLocked removes old's key from its container object, deleting the
// physical container entirely if it becomes empty (spec.md §4.7 delete rule, also used
// when Put relocates a key across the encrypted-flag boundary).
func (p *JsonPacked) removeFromContainerLocked(ctx context.Context, old jsonEntry) error {
	obj, err := p.loadContainerObjLocked(ctx, old.ContainerKey, old.Encrypted)
	if err != nil {
		return err
	}
	delete(obj, old.Path)
	delete(p.entries, old.Path)

	if len(obj) == 0 {
		if err := p.backend.Delete(ctx, old.ContainerKey); err != nil {
			return store.ErrBackend(old.ContainerKey, err)
		}
		delete(p.containers, old.ContainerKey)
		return nil
	}
	if err := p.writeContainerLocked(ctx, old.ContainerKey, obj); err != nil {
		return err
	}
	if cm := p.containers[old.ContainerKey]; cm != nil {
		cm.Count = len(obj)
	}
	return nil
}

// Delete implements store.BlobStore. Deleting an absent key is not an error.
func (p *JsonPacked) Delete(ctx context.Context, key store.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	old, ok := p.entries[key]
	if !ok {
		return nil
	}
	if err := p.removeFromContainerLocked(ctx, old); err != nil {
		return err
	}
	return p.saveMasterLocked(ctx)
}

// List implements store.BlobStore over the logical keys named in the master index.
func (p *JsonPacked) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	keys := make([]store.Key, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	return filterList(keys, opts), nil
}

// Url implements store.BlobStore. A logical key packed inside a shared container has
// no meaningful direct URL; use ContainerUrl for the physical container's URL instead.
func (p *JsonPacked) Url(ctx context.Context, key store.Key) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return "", false, err
	}
	if _, ok := p.entries[key]; !ok {
		return "", false, nil
	}
	return "", false, store.ErrURLUnavailable(key)
}

// ContainerUrl returns the physical URL of the container currently holding key, per
// spec.md §4.5's JsonPacked-specific escape hatch.
func (p *JsonPacked) ContainerUrl(ctx context.Context, key store.Key) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return "", false, err
	}
	e, ok := p.entries[key]
	if !ok {
		return "", false, nil
	}
	url, ok, err := p.backend.Url(ctx, e.ContainerKey)
	if err != nil {
		return "", false, store.ErrBackend(e.ContainerKey, err)
	}
	return url, ok, nil
}

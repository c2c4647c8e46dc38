package packedstore

import (
	"context"
	"encoding/json"
	"sync"

	store "github.com/sharedcode/objectstore"
)

// appendEntry is one logical key's location within a container, matching the
// persisted master format of spec.md §6: {parentPath, path, position, length, encrypted}.
type appendEntry struct {
	ContainerKey store.Key `json:"parentPath"`
	Path         store.Key `json:"path"`
	Position     int       `json:"position"`
	Length       int       `json:"length"`
	Encrypted    bool      `json:"encrypted"`
}

type appendContainerMeta struct {
	Size      int
	Encrypted bool
}

// AppendPacked packs arbitrary string blobs by offset and length into shared
// container blobs bounded by maxContainerLen bytes (spec.md §4.6).
type AppendPacked struct {
	mu              sync.Mutex
	backend         store.BlobStore
	opts            Options
	maxContainerLen int
	masterKey       store.Key

	loaded     bool
	entries    map[store.Key]appendEntry
	containers map[store.Key]*appendContainerMeta
}

// New wraps backend with append-packed storage. maxContainerLen <= 0 means a container
// may grow without bound (a single container absorbs every same-flag entry).
func New(backend store.BlobStore, maxContainerLen int, opts Options) *AppendPacked {
	masterKey := opts.MasterKey
	if masterKey == "" {
		masterKey = joinRoot(opts.Root, "ra-master.json")
	}
	return &AppendPacked{
		backend:         backend,
		opts:            opts,
		maxContainerLen: maxContainerLen,
		masterKey:       masterKey,
	}
}

func (p *AppendPacked) ensureLoadedLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	blob, ok, err := p.backend.Get(ctx, p.masterKey, true)
	if err != nil {
		return store.ErrBackend(p.masterKey, err)
	}
	p.entries = make(map[store.Key]appendEntry)
	p.containers = make(map[store.Key]*appendContainerMeta)
	if !ok {
		p.loaded = true
		return nil
	}
	var list []appendEntry
	if err := json.Unmarshal([]byte(blob.Value), &list); err != nil {
		return store.ErrMasterCorrupt(err)
	}
	for _, e := range list {
		p.entries[e.Path] = e
		cm := p.containers[e.ContainerKey]
		if cm == nil {
			cm = &appendContainerMeta{Encrypted: e.Encrypted}
			p.containers[e.ContainerKey] = cm
		}
		if end := e.Position + e.Length; end > cm.Size {
			cm.Size = end
		}
	}
	p.loaded = true
	return nil
}

func (p *AppendPacked) saveMasterLocked(ctx context.Context) error {
	list := make([]appendEntry, 0, len(p.entries))
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

// Get implements store.BlobStore. The caller-supplied encrypted flag is informational
// only: the flag actually recorded for the entry is authoritative.
func (p *AppendPacked) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return store.Blob{}, false, err
	}
	e, ok := p.entries[key]
	if !ok {
		return store.Blob{}, false, nil
	}
	body, ok, err := p.backend.Get(ctx, e.ContainerKey, e.Encrypted)
	if err != nil {
		return store.Blob{}, false, store.ErrBackend(e.ContainerKey, err)
	}
	if !ok || e.Position+e.Length > len(body.Value) {
		return store.Blob{}, false, nil
	}
	return store.Blob{Value: body.Value[e.Position : e.Position+e.Length], Encrypted: e.Encrypted}, true, nil
}

// Put implements store.BlobStore: allocates a new entry, or updates an existing one
// in place per spec.md §4.6.
func (p *AppendPacked) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	if old, ok := p.entries[key]; ok {
		if err := p.updateLocked(ctx, key, old, value, encrypted); err != nil {
			return err
		}
	} else if err := p.allocateLocked(ctx, key, value, encrypted); err != nil {
		return err
	}
	return p.saveMasterLocked(ctx)
}

// allocateLocked implements the allocation rule: a container with a matching encrypted
// flag whose size + len(value) fits, else a freshly created container. Containers are
// scanned in map order, so which of several fitting containers is used is not defined.
func (p *AppendPacked) allocateLocked(ctx context.Context, key store.Key, value string, encrypted bool) error {
	for containerKey, cm := range p.containers {
		if cm.Encrypted != encrypted {
			continue
		}
		if p.maxContainerLen > 0 && cm.Size+len(value) > p.maxContainerLen {
			continue
		}
		body, ok, err := p.backend.Get(ctx, containerKey, encrypted)
		if err != nil {
			return store.ErrBackend(containerKey, err)
		}
		current := ""
		if ok {
			current = body.Value
		}
		if err := p.backend.Put(ctx, containerKey, current+value, encrypted); err != nil {
			return store.ErrBackend(containerKey, err)
		}
		p.entries[key] = appendEntry{ContainerKey: containerKey, Path: key, Position: cm.Size, Length: len(value), Encrypted: encrypted}
		cm.Size += len(value)
		return nil
	}

	containerKey := newContainerKey(p.opts.Root)
	if err := p.backend.Put(ctx, containerKey, value, encrypted); err != nil {
		return store.ErrBackend(containerKey, err)
	}
	p.entries[key] = appendEntry{ContainerKey: containerKey, Path: key, Position: 0, Length: len(value), Encrypted: encrypted}
	p.containers[containerKey] = &appendContainerMeta{Size: len(value), Encrypted: encrypted}
	return nil
}

// updateLocked implements the excise-then-reappend-or-relocate update rule.
func (p *AppendPacked) updateLocked(ctx context.Context, key store.Key, old appendEntry, value string, encrypted bool) error {
	body, ok, err := p.backend.Get(ctx, old.ContainerKey, old.Encrypted)
	if err != nil {
		return store.ErrBackend(old.ContainerKey, err)
	}
	current := ""
	if ok {
		current = body.Value
	}
	excised := current[:old.Position] + current[old.Position+old.Length:]

	for k, e := range p.entries {
		if e.ContainerKey == old.ContainerKey && e.Position > old.Position {
			e.Position -= old.Length
			p.entries[k] = e
		}
	}

	cm := p.containers[old.ContainerKey]
	fits := encrypted == old.Encrypted && (p.maxContainerLen <= 0 || len(excised)+len(value) <= p.maxContainerLen)
	if fits {
		if err := p.backend.Put(ctx, old.ContainerKey, excised+value, old.Encrypted); err != nil {
			return store.ErrBackend(old.ContainerKey, err)
		}
		cm.Size = len(excised) + len(value)
		p.entries[key] = appendEntry{ContainerKey: old.ContainerKey, Path: key, Position: len(excised), Length: len(value), Encrypted: encrypted}
		return nil
	}

	if err := p.backend.Put(ctx, old.ContainerKey, excised, old.Encrypted); err != nil {
		return store.ErrBackend(old.ContainerKey, err)
	}
	cm.Size = len(excised)
	delete(p.entries, key)
	return p.allocateLocked(ctx, key, value, encrypted)
}

// Delete implements store.BlobStore. Deleting an absent key is not an error. Empty
// containers are retained for reuse, per spec.md §3 (explicit design decision).
func (p *AppendPacked) Delete(ctx context.Context, key store.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	old, ok := p.entries[key]
	if !ok {
		return nil
	}

	body, ok, err := p.backend.Get(ctx, old.ContainerKey, old.Encrypted)
	if err != nil {
		return store.ErrBackend(old.ContainerKey, err)
	}
	current := ""
	if ok {
		current = body.Value
	}
	excised := current[:old.Position] + current[old.Position+old.Length:]

	for k, e := range p.entries {
		if e.ContainerKey == old.ContainerKey && e.Position > old.Position {
			e.Position -= old.Length
			p.entries[k] = e
		}
	}

	if err := p.backend.Put(ctx, old.ContainerKey, excised, old.Encrypted); err != nil {
		return store.ErrBackend(old.ContainerKey, err)
	}
	if cm := p.containers[old.ContainerKey]; cm != nil {
		cm.Size = len(excised)
	}
	delete(p.entries, key)
	return p.saveMasterLocked(ctx)
}

// List implements store.BlobStore over the logical keys named in the master index.
func (p *AppendPacked) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
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
// no meaningful direct URL (spec.md §4.5).
func (p *AppendPacked) Url(ctx context.Context, key store.Key) (string, bool, error) {
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

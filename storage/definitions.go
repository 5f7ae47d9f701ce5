package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

type cacheKey struct {
	name    string
	version int
}

// Definitions serves workflows from a Storage, decoding them through a
// registry. Decoded workflows are verified and immutable, so each version is
// decoded once and shared by every execution.
type Definitions struct {
	store    Storage
	registry *workflow.Registry

	mu    sync.RWMutex
	cache map[cacheKey]*workflow.Workflow
}

// NewDefinitions creates a definition storage backed by store. A nil
// registry resolves no service objects or variable handlers.
func NewDefinitions(store Storage, registry *workflow.Registry) *Definitions {
	if registry == nil {
		registry = workflow.NewRegistry()
	}
	return &Definitions{
		store:    store,
		registry: registry,
		cache:    make(map[cacheKey]*workflow.Workflow),
	}
}

// LoadByName loads a workflow. Version 0 selects the latest version and is
// never served from the cache.
func (d *Definitions) LoadByName(ctx context.Context, name string, version int) (*workflow.Workflow, error) {
	if version != 0 {
		d.mu.RLock()
		wf, ok := d.cache[cacheKey{name, version}]
		d.mu.RUnlock()
		if ok {
			return wf, nil
		}
	}

	def, err := d.store.GetDefinition(ctx, name, version)
	if err != nil {
		return nil, err
	}
	wf, err := workflow.Decode(def, d.registry)
	if err != nil {
		return nil, fmt.Errorf("decode %s version %d: %w", name, def.Version, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.cache[cacheKey{name, def.Version}]; ok {
		return cached, nil
	}
	d.cache[cacheKey{name, def.Version}] = wf
	return wf, nil
}

// Save verifies wf, stores it as a new version and updates wf.Version.
func (d *Definitions) Save(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Verify(); err != nil {
		return err
	}
	def, err := workflow.Encode(wf)
	if err != nil {
		return err
	}
	version, err := d.store.SaveDefinition(ctx, def)
	if err != nil {
		return err
	}
	wf.Version = version

	d.mu.Lock()
	d.cache[cacheKey{wf.Name, version}] = wf
	d.mu.Unlock()
	return nil
}

// YAMLDefinitions keeps workflow definitions as YAML files named
// <name>_<version>.yaml in a directory.
type YAMLDefinitions struct {
	dir      string
	registry *workflow.Registry
	mu       sync.Mutex
}

// NewYAMLDefinitions creates a file definition storage rooted at dir,
// creating the directory if needed.
func NewYAMLDefinitions(dir string, registry *workflow.Registry) (*YAMLDefinitions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create definitions directory: %w", err)
	}
	if registry == nil {
		registry = workflow.NewRegistry()
	}
	return &YAMLDefinitions{dir: dir, registry: registry}, nil
}

func (d *YAMLDefinitions) path(name string, version int) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%d.yaml", name, version))
}

// latest returns the highest stored version of name, or 0.
func (d *YAMLDefinitions) latest(name string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, name+"_*.yaml"))
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), name+"_"), ".yaml")
		v, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

// LoadByName loads a workflow. Version 0 selects the latest version.
func (d *YAMLDefinitions) LoadByName(ctx context.Context, name string, version int) (*workflow.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if version == 0 {
		latest, err := d.latest(name)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, name)
		}
		version = latest
	}

	data, err := os.ReadFile(d.path(name, version))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s version %d", ErrDefinitionNotFound, name, version)
	} else if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", name, err)
	}

	var def types.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition %s: %w", name, err)
	}
	def.Version = version
	return workflow.Decode(def, d.registry)
}

// Save verifies wf, stores it as the next version of its name and updates wf.Version.
func (d *YAMLDefinitions) Save(ctx context.Context, wf *workflow.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := wf.Verify(); err != nil {
		return err
	}
	def, err := workflow.Encode(wf)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	latest, err := d.latest(wf.Name)
	if err != nil {
		return err
	}
	def.Version = latest + 1

	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition %s: %w", wf.Name, err)
	}
	if err := os.WriteFile(d.path(wf.Name, def.Version), data, 0o644); err != nil {
		return fmt.Errorf("write definition %s: %w", wf.Name, err)
	}
	wf.Version = def.Version
	return nil
}

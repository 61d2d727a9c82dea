package tunable

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Load reads parameter overrides from a YAML file of name: value pairs.  A
// missing file leaves the current values in place.  Unknown names are
// reported and skipped so that files from older builds still load.
func (t *Tunables) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("No parameter file at", path, "using defaults")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read parameters")
	}

	var values map[string]float64
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	known := make(map[string]float64, len(values))
	for name, v := range values {
		if _, ok := t.Lookup(name); !ok {
			fmt.Println("Ignoring unknown parameter", name, "in", path)
			continue
		}
		known[name] = v
	}
	if err := t.SetMany(known); err != nil {
		return errors.Wrapf(err, "bad value in %s", path)
	}
	fmt.Println("Loaded", len(known), "parameters from", path)
	return nil
}

// Save writes every parameter to path, replacing the file atomically.
// Concurrent saves are serialised so the newest values always win.
func (t *Tunables) Save(path string) error {
	t.saveLock.Lock()
	defer t.saveLock.Unlock()

	data, err := yaml.Marshal(t.Values())
	if err != nil {
		return errors.Wrap(err, "failed to marshal parameters")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create parameter directory")
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary parameter file")
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to write parameters")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to replace parameter file")
	}
	return nil
}

// InUsePath is where the parameters actually in effect are dumped at
// startup, next to the file they were loaded from.
func InUsePath(path string) string {
	return path + ".in-use.yaml"
}

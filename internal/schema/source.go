package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source loads raw schema documents. Implementations exist for a YAML
// directory and for the _schemas database table; deployments pick one via
// config.
type Source interface {
	LoadRaw(ctx context.Context, entity string) (*RawDocument, error)
}

// FileSource reads one YAML document per entity from a directory:
// <dir>/<entity>.yaml (or .yml).
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (fs *FileSource) LoadRaw(_ context.Context, entity string) (*RawDocument, error) {
	// Entity names come from the URL; keep lookups inside the directory.
	if entity == "" || entity != filepath.Base(entity) || entity == ".." {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entity)
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(fs.Dir, entity+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entity)
		}
		return nil, fmt.Errorf("read schema %s: %w", entity, err)
	}

	var raw RawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, entity, err)
	}
	if raw.Name == "" {
		raw.Name = entity
	}
	return &raw, nil
}

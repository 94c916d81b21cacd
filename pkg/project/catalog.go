package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Catalog maps project identifiers to projects. It is not modified
// after it has been loaded.
type Catalog map[string]*Project

func NewCatalog() Catalog {
	return Catalog{}
}

func (c Catalog) Get(projectID string) (*Project, bool) {
	project, ok := c[projectID]
	return project, ok
}

// Cost returns the capacity consumed by one experiment of the project.
func (c Catalog) Cost(projectID string) (int, bool) {
	project, ok := c[projectID]
	if !ok {
		return 0, false
	}
	return project.Capacity, true
}

func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isYaml(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadCatalog reads the catalog from path. A missing file yields an
// empty catalog. YAML is used for .yaml/.yml files, JSON otherwise.
func LoadCatalog(fsys utils.Fs, path string) (Catalog, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("No project catalog found at", path)
		return NewCatalog(), nil
	}
	if err != nil {
		return nil, err
	}

	catalog := NewCatalog()
	if len(strings.TrimSpace(string(data))) == 0 {
		return catalog, nil
	}

	if isYaml(path) {
		err = yaml.Unmarshal(data, &catalog)
	} else {
		err = json.Unmarshal(data, &catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrParse, path, err)
	}

	for id, project := range catalog {
		if project == nil {
			return nil, fmt.Errorf("%w: project %s: empty definition", utils.ErrParse, id)
		}
		if err := project.Validate(); err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
	}

	return catalog, nil
}

// SaveCatalog writes the catalog to path in the format implied by its extension.
func SaveCatalog(fsys utils.Fs, path string, catalog Catalog) error {
	var data []byte
	var err error

	if isYaml(path) {
		data, err = yaml.Marshal(catalog)
	} else {
		data, err = json.MarshalIndent(catalog, "", "  ")
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0777); err != nil {
			return err
		}
	}

	return afero.WriteFile(fsys, path, data, 0666)
}

package space

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlSpaceFile is the top-level YAML structure for space files.
type yamlSpaceFile struct {
	Space yamlSpace `yaml:"space"`
}

type yamlSpace struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Elements []yamlElement `yaml:"elements"`
}

type yamlElement struct {
	ID     string `yaml:"id"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Static bool   `yaml:"static"`
	Image  string `yaml:"image"`
}

// LoadDescriptorFromBytes parses and validates a space from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the space schema.
// Postcondition: Returns a validated Descriptor or a non-nil error.
func LoadDescriptorFromBytes(data []byte) (*Descriptor, error) {
	var file yamlSpaceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing space YAML: %w", err)
	}
	d := convertYAMLSpace(file.Space)
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validating space: %w", err)
	}
	return d, nil
}

// LoadDescriptorsFromDir loads every .yaml or .yml file in dir.
//
// Postcondition: Returns at least one descriptor or a non-nil error.
func LoadDescriptorsFromDir(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading space directory %s: %w", dir, err)
	}

	var out []*Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading space file %s: %w", name, err)
		}
		d, err := LoadDescriptorFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading space from %s: %w", name, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no space files found in %s", dir)
	}
	return out, nil
}

func convertYAMLSpace(ys yamlSpace) *Descriptor {
	d := &Descriptor{
		ID:     ys.ID,
		Name:   ys.Name,
		Bounds: Bounds{Width: ys.Width, Height: ys.Height},
	}
	for _, ye := range ys.Elements {
		d.Elements = append(d.Elements, Element{
			ID:       ye.ID,
			X:        ye.X,
			Y:        ye.Y,
			Width:    ye.Width,
			Height:   ye.Height,
			Static:   ye.Static,
			ImageURL: ye.Image,
		})
	}
	return d
}

// Catalog is an in-memory Lookup over a fixed set of descriptors.
// It is read-only after construction and safe for concurrent use.
type Catalog struct {
	spaces map[string]*Descriptor
}

// NewCatalog indexes descriptors by id.
//
// Postcondition: Returns an error if two descriptors share an id.
func NewCatalog(descriptors []*Descriptor) (*Catalog, error) {
	c := &Catalog{spaces: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, dup := c.spaces[d.ID]; dup {
			return nil, fmt.Errorf("duplicate space id %q", d.ID)
		}
		c.spaces[d.ID] = d
	}
	return c, nil
}

// Lookup returns the descriptor registered under id.
func (c *Catalog) Lookup(_ context.Context, id string) (*Descriptor, error) {
	d, ok := c.spaces[id]
	if !ok {
		return nil, fmt.Errorf("space %q: %w", id, ErrNotFound)
	}
	return d, nil
}

// Len returns the number of spaces in the catalog.
func (c *Catalog) Len() int {
	return len(c.spaces)
}

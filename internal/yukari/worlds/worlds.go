// Package worlds resolves world and neighborhood identifiers reported by the
// game into the narrative descriptions injected into scene context. The
// catalog ships with embedded defaults and can be replaced wholesale by a
// YAML file maintained alongside the database.
package worlds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultWorldContext is used when neither the world nor the neighborhood is
// known to the catalog.
const DefaultWorldContext = "The Sims World"

// catalogDoc is the YAML document shape.
type catalogDoc struct {
	Worlds        map[int64]string `yaml:"worlds"`
	Neighborhoods map[int64]string `yaml:"neighborhoods"`
}

// Catalog maps world and neighborhood identifiers to narrative descriptions.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	worlds        map[int64]string
	neighborhoods map[int64]string
}

// defaultCatalogYAML covers the base-game worlds. Operators extend or replace
// it with a file passed to Load.
const defaultCatalogYAML = `
worlds:
  1: "Willow Creek, a lush suburban town built along slow green bayous"
  2: "Oasis Springs, a sun-baked desert community around a shared oasis"
  3: "Newcrest, a freshly zoned district of empty lots and new money"
  4: "Magnolia Promenade, a small riverside shopping quarter"
  5: "Windenburg, an old-world European town of castles and cobblestone"
  6: "San Myshuno, a dense modern metropolis of festivals and high-rises"
  7: "Brindleton Bay, a foggy New-England harbor town"
  8: "Del Sol Valley, a glitzy hillside city chasing fame"
  9: "StrangerVille, a dusty military town with a secret"
  10: "Sulani, a tropical island chain living on ocean time"
  11: "Evergreen Harbor, a post-industrial port going green"
  12: "Mt. Komorebi, a snow-capped Japanese mountain resort town"
  13: "Henford-on-Bagley, a sleepy English countryside village"

neighborhoods:
  101: "a quiet tree-lined residential street"
  102: "a lively commercial strip"
  103: "a waterfront park district"
  104: "an upscale gated enclave"
  105: "a run-down block on the edge of town"
`

// NewDefault returns a Catalog built from the embedded defaults.
func NewDefault() *Catalog {
	c, err := parse([]byte(defaultCatalogYAML))
	if err != nil {
		// The embedded document is fixed at compile time; a parse failure is
		// a programming error.
		panic(fmt.Sprintf("worlds: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. The file fully replaces the embedded
// defaults.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("worlds: read catalog: %w", err)
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("worlds: parse catalog %s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	c := &Catalog{
		worlds:        doc.Worlds,
		neighborhoods: doc.Neighborhoods,
	}
	if c.worlds == nil {
		c.worlds = map[int64]string{}
	}
	if c.neighborhoods == nil {
		c.neighborhoods = map[int64]string{}
	}
	return c, nil
}

// WorldDescription returns the description for a world, or DefaultWorldContext
// when the world is unknown.
func (c *Catalog) WorldDescription(worldID int64) string {
	if d, ok := c.worlds[worldID]; ok {
		return d
	}
	return DefaultWorldContext
}

// EnvironmentContext composes the narrative world context for a location.
// When the neighborhood is known it is framed inside its world; otherwise the
// world description stands alone.
func (c *Catalog) EnvironmentContext(worldID, neighborhoodID int64) string {
	world := c.WorldDescription(worldID)
	if hood, ok := c.neighborhoods[neighborhoodID]; ok {
		return fmt.Sprintf("%s inside %s", hood, world)
	}
	return world
}

package tools

import (
	"fmt"
	"strings"
)

// EntityType names the kinds of entity graph_query accepts.
type EntityType string

const (
	EntityWeed      EntityType = "weed"
	EntityCrop      EntityType = "crop"
	EntityHerbicide EntityType = "herbicide"
)

// ParseEntityType validates an entity type coming from a request.
func ParseEntityType(s string) (EntityType, error) {
	switch t := EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntityWeed, EntityCrop, EntityHerbicide:
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type: %s. Use 'weed', 'crop', or 'herbicide'", s)
}

// EntityQuery is one of WeedQuery, CropQuery or HerbicideQuery.
type EntityQuery interface {
	entityType() EntityType
}

// WeedQuery asks which herbicides control a weed.
type WeedQuery struct {
	Name       string
	Crop       string
	State      string
	ExcludeMOA string
}

// CropQuery asks which herbicides are registered for a crop.
type CropQuery struct {
	Name  string
	State string
}

// HerbicideQuery asks for one herbicide's details by name or number.
type HerbicideQuery struct {
	Name            string
	IncludeControls bool
}

func (WeedQuery) entityType() EntityType      { return EntityWeed }
func (CropQuery) entityType() EntityType      { return EntityCrop }
func (HerbicideQuery) entityType() EntityType { return EntityHerbicide }

// NewEntityQuery builds the plain query for an entity type and name.
func NewEntityQuery(t EntityType, name string) EntityQuery {
	switch t {
	case EntityWeed:
		return WeedQuery{Name: name}
	case EntityCrop:
		return CropQuery{Name: name}
	default:
		return HerbicideQuery{Name: name, IncludeControls: true}
	}
}

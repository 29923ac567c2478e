package roomid

import (
	"errors"

	"roomcheck/internal/model"
)

// ErrEmptyDirectory means the portal returned no buildings. Nothing can be
// checked without them, so callers treat it as an initialization failure.
var ErrEmptyDirectory = errors.New("roomid: building directory is empty")

// Directory is the ordered building list fetched from the portal plus the
// abbreviation table used to reconcile it with the lecture feed.
type Directory struct {
	buildings []model.Building
	byCode    map[string]int
	byName    map[string]int
	identity  *Identity
}

// NewDirectory validates and indexes buildings. Names are cleaned of their
// numeric prefix and normalized through identity.
func NewDirectory(buildings []model.Building, identity *Identity) (*Directory, error) {
	if len(buildings) == 0 {
		return nil, ErrEmptyDirectory
	}

	d := &Directory{
		buildings: make([]model.Building, 0, len(buildings)),
		byCode:    make(map[string]int, len(buildings)),
		byName:    make(map[string]int, len(buildings)),
		identity:  identity,
	}
	for _, b := range buildings {
		if b.Code == "" {
			continue
		}
		if _, dup := d.byCode[b.Code]; dup {
			continue
		}
		b.Name = identity.NormalizeBuilding(CleanBuildingName(b.Name))
		d.byCode[b.Code] = len(d.buildings)
		if _, ok := d.byName[b.Name]; !ok {
			d.byName[b.Name] = len(d.buildings)
		}
		d.buildings = append(d.buildings, b)
	}
	if len(d.buildings) == 0 {
		return nil, ErrEmptyDirectory
	}
	return d, nil
}

// Buildings returns a copy of the ordered building list.
func (d *Directory) Buildings() []model.Building {
	out := make([]model.Building, len(d.buildings))
	copy(out, d.buildings)
	return out
}

func (d *Directory) Len() int {
	return len(d.buildings)
}

// Identity returns the abbreviation table backing this directory.
func (d *Directory) Identity() *Identity {
	return d.identity
}

// Name returns the canonical name for a portal building code.
func (d *Directory) Name(code string) (string, bool) {
	i, ok := d.byCode[code]
	if !ok {
		return "", false
	}
	return d.buildings[i].Name, true
}

// Code returns the portal code for a building name or abbreviation.
func (d *Directory) Code(name string) (string, bool) {
	i, ok := d.byName[d.identity.NormalizeBuilding(name)]
	if !ok {
		return "", false
	}
	return d.buildings[i].Code, true
}

// Resolve accepts either a portal code or a (possibly abbreviated) name and
// returns the matching directory entry.
func (d *Directory) Resolve(codeOrName string) (model.Building, bool) {
	if i, ok := d.byCode[codeOrName]; ok {
		return d.buildings[i], true
	}
	if i, ok := d.byName[d.identity.NormalizeBuilding(codeOrName)]; ok {
		return d.buildings[i], true
	}
	return model.Building{}, false
}

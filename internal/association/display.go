package association

import (
	"github.com/site-tracker/backend/internal/models"
)

// Resolver looks up the association of a tag.
type Resolver interface {
	Resolve(tagID string) (models.Association, bool)
}

// Directory resolves an entity name from its type and id.
type Directory interface {
	Lookup(targetType models.TargetType, id int64) (name string, ok bool)
}

// MapDirectory is an in-memory Directory.
type MapDirectory struct {
	Employees map[int64]models.Employee
	Assets    map[int64]models.Asset
}

// NewMapDirectory indexes employees and assets by id.
func NewMapDirectory(employees []models.Employee, assets []models.Asset) *MapDirectory {
	d := &MapDirectory{
		Employees: make(map[int64]models.Employee, len(employees)),
		Assets:    make(map[int64]models.Asset, len(assets)),
	}
	for _, e := range employees {
		d.Employees[e.ID] = e
	}
	for _, a := range assets {
		d.Assets[a.ID] = a
	}
	return d
}

// Lookup implements Directory.
func (d *MapDirectory) Lookup(targetType models.TargetType, id int64) (string, bool) {
	switch targetType {
	case models.TargetEmployee:
		e, ok := d.Employees[id]
		return e.Name, ok
	case models.TargetAsset:
		a, ok := d.Assets[id]
		return a.Name, ok
	}
	return "", false
}

// Join combines positions with their associations. A tag whose association
// is missing, or whose entity is not in the directory, is reported with the
// unassociated label and no type. Output order follows positions.
func Join(positions []models.TagPosition, links Resolver, dir Directory) []models.TagDisplayInfo {
	out := make([]models.TagDisplayInfo, 0, len(positions))
	for _, p := range positions {
		info := models.TagDisplayInfo{
			TagID:     p.TagID,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			Name:      models.UnassociatedLabel,
			Stale:     p.Stale,
			Timestamp: p.Timestamp,
		}
		if a, ok := links.Resolve(p.TagID); ok && dir != nil {
			if name, found := dir.Lookup(a.TargetType, a.TargetID); found {
				info.Name = name
				info.Type = a.TargetType
				info.TargetID = a.TargetID
				info.Associated = true
			}
		}
		out = append(out, info)
	}
	return out
}

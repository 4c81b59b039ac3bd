package models

import "time"

// TargetType is the kind of entity a tag can be associated with.
type TargetType string

const (
	TargetEmployee TargetType = "employee"
	TargetAsset    TargetType = "asset"
)

// Valid reports whether t is one of the known target types.
func (t TargetType) Valid() bool {
	return t == TargetEmployee || t == TargetAsset
}

// UnassociatedLabel is shown for tags without a resolvable entity.
const UnassociatedLabel = "unassociated"

// TagPosition is the latest reported location of a tag in drawing space.
type TagPosition struct {
	TagID     string    `json:"tagId" msgpack:"tagId"`
	X         float64   `json:"x" msgpack:"x"`
	Y         float64   `json:"y" msgpack:"y"`
	Z         float64   `json:"z" msgpack:"z"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Stale     bool      `json:"stale,omitempty" msgpack:"stale,omitempty"`
}

// Point returns the position as a drawing-space point.
func (p TagPosition) Point() Point {
	return Point{X: p.X, Y: p.Y, Z: p.Z}
}

// TagPower is the last battery report of a tag.
type TagPower struct {
	TagID     string    `json:"tagId" msgpack:"tagId"`
	Battery   int       `json:"battery" msgpack:"battery"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Alarm is an alarm raised by the RTLS vendor or by a geofence transition.
type Alarm struct {
	ID        int64     `json:"id,omitempty"`
	TagID     string    `json:"tagId"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SiteID    int64     `json:"siteId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Association links a tag to an employee or an asset.
type Association struct {
	TagID      string     `json:"tagId" msgpack:"tagId"`
	TargetType TargetType `json:"targetType" msgpack:"targetType"`
	TargetID   int64      `json:"targetId" msgpack:"targetId"`
}

// Employee is a person that can wear a tag.
type Employee struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId,omitempty"`
}

// Asset is a piece of equipment that can carry a tag.
type Asset struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CompanyID string `json:"companyId,omitempty"`
}

// TagDisplayInfo is the read-only join of a position, its association and
// the associated entity. It is recomputed on demand and never stored.
type TagDisplayInfo struct {
	TagID      string     `json:"tagId" msgpack:"tagId"`
	X          float64    `json:"x" msgpack:"x"`
	Y          float64    `json:"y" msgpack:"y"`
	Z          float64    `json:"z" msgpack:"z"`
	Name       string     `json:"name" msgpack:"name"`
	Type       TargetType `json:"type,omitempty" msgpack:"type,omitempty"`
	TargetID   int64      `json:"targetId,omitempty" msgpack:"targetId,omitempty"`
	Associated bool       `json:"associated" msgpack:"associated"`
	Stale      bool       `json:"stale,omitempty" msgpack:"stale,omitempty"`
	Battery    *int       `json:"battery,omitempty" msgpack:"battery,omitempty"`
	Area       string     `json:"area,omitempty" msgpack:"area,omitempty"`
	Timestamp  time.Time  `json:"timestamp" msgpack:"timestamp"`
}

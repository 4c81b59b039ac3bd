package models

import "time"

// Site is a construction site with its floor plan metadata.
type Site struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ServerIP   string  `json:"serverIp"`
	ServerPort int     `json:"serverPort"`
	MapFile    string  `json:"mapFile"`
	MapWidth   float64 `json:"mapWidth"`
	MapHeight  float64 `json:"mapHeight"`
	MapCorners []Point `json:"mapCorners"`
	Company    string  `json:"company"`
	CompanyID  string  `json:"companyId"`
}

// AreaTypeGeofence is the only area type the dashboard defines.
const AreaTypeGeofence = "geofence"

// Area is a named polygon in drawing space.
type Area struct {
	ID        string    `json:"id" yaml:"id"`
	SiteID    int64     `json:"siteId" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Type      string    `json:"type" yaml:"type"`
	Points    []Point   `json:"points" yaml:"points"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
}

// Contains reports whether p lies inside the area polygon (even-odd rule).
func (a Area) Contains(p Point) bool {
	n := len(a.Points)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := a.Points[i], a.Points[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// LogEntry is an operational log line kept per site.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	SiteID    int64     `json:"siteId"`
}

// profile.go - YAML site profile: demo site, simulated tags and geofences
package config

import (
	"fmt"
	"os"

	"github.com/site-tracker/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// SiteProfile describes the site seeded into an empty database.
type SiteProfile struct {
	Site   ProfileSite   `yaml:"site"`
	TagIDs []string      `yaml:"tags"`
	Areas  []models.Area `yaml:"areas"`
}

// ProfileSite is the site block of a profile.
type ProfileSite struct {
	Name       string         `yaml:"name"`
	Company    string         `yaml:"company"`
	CompanyID  string         `yaml:"companyId"`
	ServerIP   string         `yaml:"serverIp"`
	ServerPort int            `yaml:"serverPort"`
	MapWidth   float64        `yaml:"mapWidth"`
	MapHeight  float64        `yaml:"mapHeight"`
	Corners    []models.Point `yaml:"corners"`
}

// DefaultSiteProfile returns the built-in demo site.
func DefaultSiteProfile() *SiteProfile {
	return &SiteProfile{
		Site: ProfileSite{
			Name:       "Cantiere Milano",
			Company:    "Demo Costruzioni",
			CompanyID:  "1",
			ServerIP:   "127.0.0.1",
			ServerPort: 48300,
			MapWidth:   100,
			MapHeight:  80,
			Corners: []models.Point{
				{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 0, Y: 80},
			},
		},
		TagIDs: []string{"TAG001", "TAG002"},
	}
}

// LoadSiteProfile reads a profile from path. A missing file yields the
// default profile; fields left out of the file keep their defaults.
func LoadSiteProfile(path string) (*SiteProfile, error) {
	profile := DefaultSiteProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read site profile: %w", err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse site profile: %w", err)
	}

	for i := range profile.Areas {
		a := &profile.Areas[i]
		if a.ID == "" {
			a.ID = fmt.Sprintf("area-%d", i+1)
		}
		if a.Type == "" {
			a.Type = models.AreaTypeGeofence
		}
		if len(a.Points) < 3 {
			return nil, fmt.Errorf("area %q needs at least 3 points, has %d", a.Name, len(a.Points))
		}
	}
	return profile, nil
}

// DemoSite converts the profile into a site record.
func (p *SiteProfile) DemoSite() models.Site {
	return models.Site{
		Name:       p.Site.Name,
		ServerIP:   p.Site.ServerIP,
		ServerPort: p.Site.ServerPort,
		MapWidth:   p.Site.MapWidth,
		MapHeight:  p.Site.MapHeight,
		MapCorners: p.Site.Corners,
		Company:    p.Site.Company,
		CompanyID:  p.Site.CompanyID,
	}
}

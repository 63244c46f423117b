package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes one external MySQL database searched at request time.
type Profile struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Active   *bool  `yaml:"active" json:"active"`
	SiteURL  string `yaml:"site_url" json:"site_url,omitempty"`
}

// IsActive treats a missing flag as active.
func (p Profile) IsActive() bool {
	return p.Active == nil || *p.Active
}

// Label identifies the profile in hits: its name, or host|database when unnamed.
func (p Profile) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Host + "|" + p.Database
}

// SiteKey is the lookup key of the profile in the site-URL map.
func (p Profile) SiteKey() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(strings.TrimSpace(p.Host) + "|" + strings.TrimSpace(p.Database))
}

// PortOrDefault returns the configured port or 3306.
func (p Profile) PortOrDefault() int {
	if p.Port <= 0 {
		return 3306
	}
	return p.Port
}

type ProfilesFile struct {
	Profiles []Profile        `yaml:"profiles"`
	SiteURLs map[string]string `yaml:"site_urls"`
}

var defaultSiteURLs = map[string]string{
	"alfassa.org": "https://www.alfassa.org",
	"alfassa.net": "https://www.alfassa.net",
}

// LoadProfiles parses the YAML profiles file at path.
func LoadProfiles(path string) (*ProfilesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	var pf ProfilesFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}
	return &pf, nil
}

func (pf *ProfilesFile) ActiveProfiles() []Profile {
	var out []Profile
	for _, p := range pf.Profiles {
		if p.IsActive() && p.Host != "" && p.Database != "" {
			out = append(out, p)
		}
	}
	return out
}

// SiteURLMap returns the lowercased site map merged with the official domains.
func (pf *ProfilesFile) SiteURLMap() map[string]string {
	out := make(map[string]string, len(pf.SiteURLs)+len(defaultSiteURLs))
	for k, v := range pf.SiteURLs {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimRight(strings.TrimSpace(v), "/")
		if key != "" && val != "" {
			out[key] = val
		}
	}
	for k, v := range defaultSiteURLs {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

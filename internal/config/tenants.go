package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"newsrelay/internal/model"
)

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// TenantFile is the layout of the tenants YAML file.
type TenantFile struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// TenantConfig describes one tenant. The publish password is either given
// inline or read from the environment variable named by PasswordEnv.
type TenantConfig struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	City        string `yaml:"city"`
	Feed        string `yaml:"feed"`
	Endpoint    string `yaml:"endpoint"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Active      *bool  `yaml:"active"`
}

// LoadTenants reads and validates the tenant file at path.
func LoadTenants(path string) ([]model.Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseTenants(raw)
}

// ParseTenants decodes a tenant file. Slugs must be unique; name defaults to
// the slug and active defaults to true.
func ParseTenants(raw []byte) ([]model.Tenant, error) {
	var file TenantFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}

	seen := make(map[string]bool, len(file.Tenants))
	tenants := make([]model.Tenant, 0, len(file.Tenants))
	for i, tc := range file.Tenants {
		t, err := tc.tenant()
		if err != nil {
			return nil, fmt.Errorf("tenant #%d: %w", i+1, err)
		}
		if seen[t.Slug] {
			return nil, fmt.Errorf("tenant #%d: duplicate slug %q", i+1, t.Slug)
		}
		seen[t.Slug] = true
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func (tc TenantConfig) tenant() (model.Tenant, error) {
	slug := strings.TrimSpace(tc.Slug)
	if !slugRe.MatchString(slug) {
		return model.Tenant{}, fmt.Errorf("invalid slug %q", tc.Slug)
	}
	if err := validateURL(tc.Feed); err != nil {
		return model.Tenant{}, fmt.Errorf("%s: feed: %w", slug, err)
	}
	if err := validateURL(tc.Endpoint); err != nil {
		return model.Tenant{}, fmt.Errorf("%s: endpoint: %w", slug, err)
	}

	password := tc.Password
	if tc.PasswordEnv != "" {
		password = os.Getenv(tc.PasswordEnv)
		if password == "" {
			return model.Tenant{}, fmt.Errorf("%s: %s is not set", slug, tc.PasswordEnv)
		}
	}

	name := strings.TrimSpace(tc.Name)
	if name == "" {
		name = slug
	}
	active := true
	if tc.Active != nil {
		active = *tc.Active
	}

	return model.Tenant{
		Slug:            slug,
		Name:            name,
		City:            strings.TrimSpace(tc.City),
		FeedURL:         strings.TrimSpace(tc.Feed),
		PublishEndpoint: strings.TrimRight(strings.TrimSpace(tc.Endpoint), "/"),
		Credentials:     model.Credentials{Username: tc.Username, Password: password},
		IsActive:        active,
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

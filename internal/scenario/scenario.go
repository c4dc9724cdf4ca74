// Package scenario defines verification scenarios and loads them from
// configuration files or from the built-in catalog.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/goverify/internal/output"
	"gopkg.in/yaml.v3"
)

// Viewport is the size of the browser page in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" env:"GOVERIFY_VIEWPORT_WIDTH" env-default:"1920"`
	Height int `yaml:"height" env:"GOVERIFY_VIEWPORT_HEIGHT" env-default:"1080"`
}

// Scenario is a named, ordered sequence of steps run against one base URL.
// BaseURL, UserAgent, Viewport and FailFast override the global settings.
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	BaseURL     string    `yaml:"base_url,omitempty"`
	UserAgent   string    `yaml:"user_agent,omitempty"`
	Viewport    *Viewport `yaml:"viewport,omitempty"`
	FailFast    *bool     `yaml:"fail_fast,omitempty"`
	Steps       Steps     `yaml:"steps"`
}

// GlobalConfig contains settings that apply to all scenarios. Every value can
// be overridden through environment variables.
//
// Boolean settings are phrased so that their zero value is the default, since
// cleanenv only applies env-default to zero values.
type GlobalConfig struct {
	BaseURL             string   `yaml:"base_url" env:"GOVERIFY_BASE_URL" env-default:"http://localhost:5173"`
	Driver              string   `yaml:"driver" env:"GOVERIFY_DRIVER" env-default:"chromedp"`
	BrowserPath         string   `yaml:"browser_path" env:"GOVERIFY_BROWSER"`
	ShowBrowser         bool     `yaml:"show_browser" env:"GOVERIFY_SHOW_BROWSER"`
	UserAgent           string   `yaml:"user_agent" env:"GOVERIFY_USER_AGENT"`
	Viewport            Viewport `yaml:"viewport"`
	ArtifactsDir        string   `yaml:"artifacts_dir" env:"GOVERIFY_ARTIFACTS_DIR" env-default:"verification"`
	UniqueArtifacts     bool     `yaml:"unique_artifacts" env:"GOVERIFY_UNIQUE_ARTIFACTS"`
	PlainScreenshots    bool     `yaml:"plain_screenshots" env:"GOVERIFY_PLAIN_SCREENSHOTS"`
	FailFast            bool     `yaml:"fail_fast" env:"GOVERIFY_FAIL_FAST"`
	DefaultTimeoutMS    int      `yaml:"default_timeout" env:"GOVERIFY_DEFAULT_TIMEOUT" env-default:"30000"`
	NavigationTimeoutMS int      `yaml:"navigation_timeout" env:"GOVERIFY_NAVIGATION_TIMEOUT" env-default:"30000"`
	WaitForServerMS     int      `yaml:"wait_for_server" env:"GOVERIFY_WAIT_FOR_SERVER"`
	IncludeBuiltin      bool     `yaml:"include_builtin" env:"GOVERIFY_INCLUDE_BUILTIN"`
}

// Config defines the overall structure of the verification configuration.
// Values are taken from one or more yaml files, environment variables or both.
type Config struct {
	Global    GlobalConfig        `yaml:"global"`
	Writer    output.WriterConfig `yaml:"writer"`
	Scenarios []Scenario          `yaml:"scenarios"`
}

// sections is used to find out which top level sections a file defines.
type sections struct {
	Global *yaml.Node `yaml:"global"`
	Writer *yaml.Node `yaml:"writer"`
}

// NewConfig reads the configuration at configPath, which can be a single file
// or a directory containing config files. The global and writer sections may
// be defined in at most one file. An empty configPath yields the built-in
// catalog with the global settings taken from the environment.
func NewConfig(configPath string) (*Config, error) {
	config := &Config{}
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, err
		}
		config.Scenarios = Builtin()
		return config, config.Validate()
	}

	files, err := configFiles(configPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found in %s", configPath)
	}

	// The file holding the global section is read through cleanenv so that the
	// environment overrides and defaults apply.
	mainFile := ""
	for _, f := range files {
		s, err := readSections(f)
		if err != nil {
			return nil, err
		}
		if s.Global == nil && s.Writer == nil {
			continue
		}
		if mainFile != "" {
			return nil, fmt.Errorf("global or writer section defined in both %s and %s", mainFile, f)
		}
		mainFile = f
	}

	if mainFile != "" {
		if err := cleanenv.ReadConfig(mainFile, config); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", mainFile, err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return nil, err
	}

	for _, f := range files {
		if f == mainFile {
			continue
		}
		scenarios, err := readScenarios(f)
		if err != nil {
			return nil, err
		}
		config.Scenarios = append(config.Scenarios, scenarios...)
	}

	if config.Global.IncludeBuiltin {
		for _, b := range Builtin() {
			if config.Find(b.Name) == nil {
				config.Scenarios = append(config.Scenarios, b)
			}
		}
	}

	return config, config.Validate()
}

func configFiles(configPath string) ([]string, error) {
	fi, err := os.Stat(configPath)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{configPath}, nil
	}
	files := []string{}
	err = filepath.WalkDir(configPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".yml" || ext == ".yaml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

func readSections(path string) (*sections, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &sections{}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s, nil
}

func readScenarios(path string) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var c struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.NewDecoder(file).Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c.Scenarios, nil
}

// Find returns the scenario with the given name or nil.
func (c *Config) Find(name string) *Scenario {
	for i := range c.Scenarios {
		if c.Scenarios[i].Name == name {
			return &c.Scenarios[i]
		}
	}
	return nil
}

// Names returns the sorted names of all configured scenarios.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Scenarios))
	for _, s := range c.Scenarios {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	return names
}

// Select returns the scenarios with the given names in the given order, or all
// scenarios if no names are given. Unknown names produce an error that
// suggests the closest configured name.
func (c *Config) Select(names ...string) ([]Scenario, error) {
	if len(names) == 0 {
		return c.Scenarios, nil
	}
	selected := make([]Scenario, 0, len(names))
	for _, n := range names {
		s := c.Find(n)
		if s == nil {
			return nil, unknownScenarioError(n, c.Names())
		}
		selected = append(selected, *s)
	}
	return selected, nil
}

// EffectiveBaseURL returns the scenario's base url or the global one.
func (s *Scenario) EffectiveBaseURL(g *GlobalConfig) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return g.BaseURL
}

func (s *Scenario) EffectiveUserAgent(g *GlobalConfig) string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	return g.UserAgent
}

func (s *Scenario) EffectiveViewport(g *GlobalConfig) Viewport {
	if s.Viewport != nil {
		return *s.Viewport
	}
	return g.Viewport
}

func (s *Scenario) EffectiveFailFast(g *GlobalConfig) bool {
	if s.FailFast != nil {
		return *s.FailFast
	}
	return g.FailFast
}

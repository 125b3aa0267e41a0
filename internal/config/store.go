// Package config loads the client profile store and the gateway daemon
// configuration.
//
// The profile store is a sectioned key/value file. A [global] section names the
// active profile through its default_profile key, and the named section holds
// the options every service backend reads.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-ini/ini"
)

const (
	// GlobalSection is the section holding the active profile pointer.
	GlobalSection = "global"
	// DefaultProfileKey names the active profile inside GlobalSection.
	DefaultProfileKey = "default_profile"
	// DefaultConfigFile is the path used when callers do not pick one.
	DefaultConfigFile = "config/config.ini"
)

var defaultsSection = ini.DefaultSection

// ErrProfileSectionMissing is returned when the global profile pointer, or the
// section it names, cannot be found.
var ErrProfileSectionMissing = errors.New("profile section missing")

// Section is the flattened view of a single configuration section.
type Section map[string]string

// Get returns the value stored under key, or "" when absent.
func (s Section) Get(key string) string {
	return s[strings.ToLower(key)]
}

// Lookup returns the value stored under key and whether it was present.
func (s Section) Lookup(key string) (string, bool) {
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

// GetOrDefault returns the value under key or def when the key is absent or empty.
func (s Section) GetOrDefault(key, def string) string {
	if v := s.Get(key); v != "" {
		return v
	}
	return def
}

// EnvOr returns the environment variable env when set, otherwise the value under key.
func (s Section) EnvOr(env, key string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return s.Get(key)
}

// Clone returns a copy of the section that callers may modify freely.
func (s Section) Clone() Section {
	out := make(Section, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store holds every section of a profile configuration file.
type Store struct {
	path     string
	sections map[string]Section
}

// NewStore builds a store from in-memory sections. Keys are lower-cased the same
// way Load does.
func NewStore(sections map[string]Section) *Store {
	st := &Store{sections: make(map[string]Section, len(sections))}
	for name, sec := range sections {
		st.sections[name] = normalize(sec)
	}
	return st
}

// Load reads the profile store at path. A missing file yields an empty store:
// the caller finds out through ActiveProfile that no profile is configured.
// Files ending in .toml are decoded as TOML, everything else as INI.
func Load(path string) (*Store, error) {
	path = ExpandPath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Store{path: path, sections: map[string]Section{}}, nil
	}

	var (
		st  *Store
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		st, err = loadTOML(path)
	default:
		st, err = loadINI(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	st.path = path
	return st, nil
}

func loadINI(path string) (*Store, error) {
	f, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		return nil, err
	}

	defaults := Section{}
	if sec, err := f.GetSection(defaultsSection); err == nil {
		defaults = Section(sec.KeysHash())
	}

	st := &Store{sections: make(map[string]Section)}
	for _, sec := range f.Sections() {
		if sec.Name() == defaultsSection {
			continue
		}
		// configparser semantics: DEFAULT keys are visible in every section.
		merged := defaults.Clone()
		for k, v := range sec.KeysHash() {
			merged[k] = v
		}
		st.sections[sec.Name()] = merged
	}
	return st, nil
}

func loadTOML(path string) (*Store, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	defaults := Section{}
	tables := make(map[string]map[string]any)
	for key, value := range raw {
		if table, ok := value.(map[string]any); ok {
			tables[key] = table
			continue
		}
		defaults[strings.ToLower(key)] = fmt.Sprint(value)
	}

	st := &Store{sections: make(map[string]Section, len(tables))}
	for name, table := range tables {
		merged := defaults.Clone()
		for k, v := range table {
			merged[strings.ToLower(k)] = fmt.Sprint(v)
		}
		st.sections[name] = merged
	}
	return st, nil
}

func normalize(sec Section) Section {
	out := make(Section, len(sec))
	for k, v := range sec {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Path returns the file the store was loaded from, if any.
func (s *Store) Path() string {
	return s.path
}

// Section returns the named section.
func (s *Store) Section(name string) (Section, bool) {
	sec, ok := s.sections[name]
	return sec, ok
}

// Sections returns all section names in lexical order.
func (s *Store) Sections() []string {
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveProfile resolves global.default_profile and returns the profile name
// together with a copy of its section.
func (s *Store) ActiveProfile() (string, Section, error) {
	global, ok := s.sections[GlobalSection]
	if !ok {
		return "", nil, fmt.Errorf("%w: no [%s] section", ErrProfileSectionMissing, GlobalSection)
	}

	name, ok := global.Lookup(DefaultProfileKey)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("%w: no %s.%s key", ErrProfileSectionMissing, GlobalSection, DefaultProfileKey)
	}

	sec, ok := s.sections[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: [%s] referenced by %s.%s", ErrProfileSectionMissing, name, GlobalSection, DefaultProfileKey)
	}
	return name, sec.Clone(), nil
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"idxsync/internal/errs"
)

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Definition describes one index kept in sync. Definitions are loaded once
// and never mutated; callers that need to tweak one take a Clone.
type Definition struct {
	Name         string `yaml:"name" json:"name"`
	Cron         string `yaml:"cron" json:"cron"`
	Mode         Mode   `yaml:"mode" json:"mode"`
	SettingsPath string `yaml:"settings_path,omitempty" json:"settings_path,omitempty"`
	Handler      string `yaml:"handler" json:"handler"`
	DBBatchSize  int    `yaml:"db_batch_size" json:"db_batch_size"`
	ESBatchSize  int    `yaml:"es_batch_size" json:"es_batch_size"`
}

type definitionsFile struct {
	Index []Definition `yaml:"index"`
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a six-field expression (seconds first) or a descriptor such as @hourly.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	return cronParser.Parse(expr)
}

func (d Definition) Clone() Definition {
	return d
}

// Key identifies a definition. A full and an incremental definition may
// share one name: both write the same alias and share its watermark.
func (d Definition) Key() string {
	return d.Name + "/" + string(d.Mode)
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errs.Configuration("definition", "name is required")
	}
	if _, err := ParseCron(d.Cron); err != nil {
		return errs.Wrap(errs.KindConfiguration, "definition", fmt.Sprintf("%s: invalid cron %q", d.Name, d.Cron), err)
	}
	switch d.Mode {
	case ModeFull:
		if strings.TrimSpace(d.SettingsPath) == "" {
			return errs.Configuration("definition", "%s: settings_path is required for full mode", d.Name)
		}
	case ModeIncremental:
	default:
		return errs.Configuration("definition", "%s: invalid mode %q (expected: full|incremental)", d.Name, d.Mode)
	}
	if strings.TrimSpace(d.Handler) == "" {
		return errs.Configuration("definition", "%s: handler is required", d.Name)
	}
	if d.DBBatchSize <= 0 {
		return errs.Configuration("definition", "%s: db_batch_size must be > 0", d.Name)
	}
	if d.ESBatchSize <= 0 {
		return errs.Configuration("definition", "%s: es_batch_size must be > 0", d.Name)
	}
	return nil
}

// ParseDefinitions decodes and validates a YAML definitions document.
func ParseDefinitions(b []byte) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f definitionsFile
	if err := dec.Decode(&f); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "definitions", "decode yaml", err)
	}
	if len(f.Index) == 0 {
		return nil, errs.Configuration("definitions", "no index definitions")
	}

	seen := make(map[string]struct{}, len(f.Index))
	out := make([]Definition, 0, len(f.Index))
	for _, d := range f.Index {
		d.Name = strings.TrimSpace(d.Name)
		d.Handler = strings.TrimSpace(d.Handler)
		d.Mode = Mode(strings.ToLower(strings.TrimSpace(string(d.Mode))))
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Key()]; dup {
			return nil, errs.Configuration("definitions", "duplicate definition %q", d.Key())
		}
		seen[d.Key()] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func LoadDefinitions(path string) ([]Definition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Configuration("definitions", "definitions path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "definitions", "read "+path, err)
	}
	return ParseDefinitions(b)
}

// Find resolves ref, either a Key or a bare name. A bare name shared by
// several definitions is ambiguous and not found.
func Find(defs []Definition, ref string) (Definition, bool) {
	ref = strings.TrimSpace(ref)
	var (
		match Definition
		n     int
	)
	for _, d := range defs {
		if d.Key() == ref {
			return d.Clone(), true
		}
		if d.Name == ref {
			match = d
			n++
		}
	}
	if n != 1 {
		return Definition{}, false
	}
	return match.Clone(), true
}

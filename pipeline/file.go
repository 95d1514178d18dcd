package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/google/jsonschema-go/jsonschema"

	"go.jacobcolvin.com/profharness/provision"
)

// ErrConfig indicates invalid pipeline configuration.
var ErrConfig = errors.New("invalid configuration")

// File is the YAML configuration file format. Every field is optional and
// mirrors the CLI flag of the same name.
type File struct {
	Timeouts         map[string]string `json:"timeouts,omitempty"         jsonschema:"per-stage timeouts keyed by stage name, as Go durations such as 30m"`
	DownloadsDir     string            `json:"downloadsDir,omitempty"     jsonschema:"directory archives are downloaded to and built in"`
	Prefix           string            `json:"prefix,omitempty"           jsonschema:"install prefix for provisioned libraries"`
	Toolchain        string            `json:"toolchain,omitempty"        jsonschema:"compiler toolchain channel"`
	SourceDir        string            `json:"sourceDir,omitempty"        jsonschema:"target source tree"`
	Binary           string            `json:"binary,omitempty"           jsonschema:"target binary name"`
	Workload         string            `json:"workload,omitempty"         jsonschema:"arguments passed to the target, shell-quoted"`
	OutputDir        string            `json:"outputDir,omitempty"        jsonschema:"directory the call graph is written to"`
	Pprof            string            `json:"pprof,omitempty"            jsonschema:"call graph renderer executable"`
	ProfileName      string            `json:"profileName,omitempty"      jsonschema:"profiled stage name; the target writes <name>.profile"`
	ProfileDir       string            `json:"profileDir,omitempty"       jsonschema:"directory the target runs in and writes its profile to"`
	Features         []string          `json:"features,omitempty"         jsonschema:"cargo features enabling profiling instrumentation"`
	Tools            []provision.Tool  `json:"tools,omitempty"            jsonschema:"libraries to provision in order; the last one is the profiler"`
	Jobs             int               `json:"jobs,omitempty"             jsonschema:"parallel make jobs"`
	RevisionLength   int               `json:"revisionLength,omitempty"   jsonschema:"abbreviated revision length"`
	SampleFrequency  int               `json:"sampleFrequency,omitempty"  jsonschema:"profiler sampling frequency in Hz"`
	SkipProvision    bool              `json:"skipProvision,omitempty"    jsonschema:"skip provisioning"`
	InstallToolchain bool              `json:"installToolchain,omitempty" jsonschema:"install the toolchain channel when missing"`
	MarkDirty        bool              `json:"markDirty,omitempty"        jsonschema:"mark revisions of modified work trees"`
}

// Schema returns the JSON Schema for [File].
func Schema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[File](nil)
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}

	schema.Title = "profharness configuration"
	closeObjects(schema)

	return schema, nil
}

// closeObjects rejects unknown keys in every struct-derived object schema.
func closeObjects(s *jsonschema.Schema) {
	if s == nil {
		return
	}

	if s.Properties != nil && s.AdditionalProperties == nil {
		s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}

	for _, p := range s.Properties {
		closeObjects(p)
	}

	closeObjects(s.Items)
}

// ParseFile decodes and validates a YAML configuration document.
func ParseFile(data []byte) (*File, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return &File{}, nil
	}

	var instance any

	err = json.Unmarshal(raw, &instance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	// An empty document decodes to null.
	if instance == nil {
		return &File{}, nil
	}

	schema, err := Schema()
	if err != nil {
		return nil, err
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	err = resolved.Validate(instance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	f := &File{}

	err = json.Unmarshal(raw, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return f, nil
}

// Load merges the file named by [Config.ConfigFile], if any, into c. Values
// from flags set on the command line are kept.
func (c *Config) Load() error {
	if c.ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	f, err := ParseFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", c.ConfigFile, err)
	}

	c.apply(f)

	_, err = c.ParseTimeouts()

	return err
}

func (c *Config) apply(f *File) {
	merge(c, c.Flags.DownloadsDir, &c.DownloadsDir, f.DownloadsDir)
	merge(c, c.Flags.Prefix, &c.Prefix, f.Prefix)
	merge(c, c.Flags.Jobs, &c.Jobs, f.Jobs)
	merge(c, c.Flags.SkipProvision, &c.SkipProvision, f.SkipProvision)
	merge(c, c.Flags.Toolchain, &c.Toolchain, f.Toolchain)
	merge(c, c.Flags.InstallToolchain, &c.InstallToolchain, f.InstallToolchain)
	merge(c, c.Flags.SourceDir, &c.SourceDir, f.SourceDir)
	merge(c, c.Flags.Binary, &c.Binary, f.Binary)
	merge(c, c.Flags.Workload, &c.Workload, f.Workload)
	merge(c, c.Flags.OutputDir, &c.OutputDir, f.OutputDir)
	merge(c, c.Flags.RevisionLength, &c.RevisionLength, f.RevisionLength)
	merge(c, c.Flags.MarkDirty, &c.MarkDirty, f.MarkDirty)
	merge(c, c.Flags.Pprof, &c.Pprof, f.Pprof)
	merge(c, c.Profile.Flags.Name, &c.Profile.Name, f.ProfileName)
	merge(c, c.Profile.Flags.Dir, &c.Profile.Dir, f.ProfileDir)
	merge(c, c.Profile.Flags.Frequency, &c.Profile.Frequency, f.SampleFrequency)

	if len(f.Features) > 0 && !c.changed(c.Flags.Features) {
		c.Features = f.Features
	}

	if len(f.Timeouts) > 0 && !c.changed(c.Flags.Timeouts) {
		c.Timeouts = f.Timeouts
	}

	if len(f.Tools) > 0 {
		c.Tools = f.Tools
	}
}

func (c *Config) changed(flag string) bool {
	return c.set != nil && c.set(flag)
}

// merge copies a non-zero file value into dst unless the flag was set.
func merge[T comparable](c *Config, flag string, dst *T, v T) {
	var zero T
	if v == zero || c.changed(flag) {
		return
	}

	*dst = v
}

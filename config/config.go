// Package config reads and writes the configuration files of neuralhe
// programs: the scheme parameters of a Context, the features to enable on it
// and, optionally, the description of a model.
//
// Files are YAML or JSON, selected by extension:
//
//	scheme:
//	  multiplicative_depth: 9
//	  scaling_mod_size: 30
//	  first_mod_size: 35
//	  security_level: HEStd_128_classic
//	  batch_size: 1024
//	  scaling_technique: FLEXIBLEAUTO
//	features: [PKE, LEVELEDSHE, KEYSWITCH, ADVANCEDSHE]
//	model:
//	  name: cryptonet
//	  layers:
//	    - {kind: gemm, name: fc1, weights: [[1, 0], [0, 1]]}
//	    - {kind: relu, name: act1, a: -8, b: 8, degree: 15}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neuralhe/neuralhe/fhe"
	"github.com/neuralhe/neuralhe/nn"
)

// Format is the encoding of a configuration file.
type Format string

const (
	YAML = Format("yaml")
	JSON = Format("json")
)

// FormatOf returns the format matching the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("cannot FormatOf: %w: unknown extension of %q", fhe.ErrInvalidArgument, path)
	}
}

// File is the content of a configuration file.
type File struct {
	Scheme   fhe.SchemeParameters `json:"scheme" yaml:"scheme"`
	Features []fhe.Feature        `json:"features,omitempty" yaml:"features,omitempty"`
	Model    *nn.ModelSpec        `json:"model,omitempty" yaml:"model,omitempty"`
}

// Load reads the configuration file at path.
func Load(path string) (*File, error) {

	format, err := FormatOf(path)
	if err != nil {
		return nil, fmt.Errorf("cannot Load: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot Load: %w: %w", fhe.ErrIO, err)
	}

	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("cannot Load %s: %w", path, err)
	}

	return f, nil
}

// Parse decodes a configuration. Unknown fields are rejected.
func Parse(data []byte, format Format) (f *File, err error) {

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("cannot Parse: %w: empty configuration", fhe.ErrSerialization)
	}

	f = new(File)

	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(f)
	case JSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(f)
	default:
		return nil, fmt.Errorf("cannot Parse: %w: unknown format %q", fhe.ErrInvalidArgument, format)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot Parse: %w: %w", fhe.ErrSerialization, err)
	}

	return
}

// Marshal encodes the configuration.
func (f *File) Marshal(format Format) (data []byte, err error) {

	switch format {
	case YAML:
		data, err = yaml.Marshal(f)
	case JSON:
		data, err = json.MarshalIndent(f, "", "  ")
	default:
		return nil, fmt.Errorf("cannot Marshal: %w: unknown format %q", fhe.ErrInvalidArgument, format)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot Marshal: %w: %w", fhe.ErrSerialization, err)
	}

	return
}

// Save writes the configuration to path, in the format of its extension.
func (f *File) Save(path string) error {

	format, err := FormatOf(path)
	if err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}

	data, err := f.Marshal(format)
	if err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}

	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot Save: %w: %w", fhe.ErrIO, err)
	}

	return nil
}

// FeatureSet returns the union of the listed features.
func (f *File) FeatureSet() (set fhe.Feature) {
	for _, feature := range f.Features {
		set |= feature
	}
	return
}

// NewContext instantiates a Context from the scheme parameters and enables
// the listed features.
func (f *File) NewContext() (*fhe.Context, error) {

	ctx, err := fhe.NewContext(f.Scheme)
	if err != nil {
		return nil, err
	}

	if set := f.FeatureSet(); set != 0 {
		if err = ctx.Enable(set); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}

// BuildModel builds the model of the configuration under ctx.
func (f *File) BuildModel(ctx *fhe.Context) (*nn.Sequential, error) {
	if f.Model == nil {
		return nil, fmt.Errorf("cannot BuildModel: %w: configuration has no model", fhe.ErrInvalidArgument)
	}
	return nn.BuildModel(ctx, *f.Model)
}

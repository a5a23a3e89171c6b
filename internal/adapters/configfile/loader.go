// Package configfile reads slipway.toml documents.
package configfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Logger defines the logging interface for the loader.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// document mirrors the on-disk layout of slipway.toml.
type document struct {
	ExeName       *string    `toml:"exe_name"`
	ExecutionPath *string    `toml:"execution_path"`
	Vars          []variable `toml:"vars"`
	Redirect      *redirect  `toml:"redirect"`
}

type variable struct {
	Key     string `toml:"key"`
	EnvName string `toml:"env_name"`
}

type redirect struct {
	Repo       *string `toml:"repo"`
	Tag        *string `toml:"tag"`
	DeployPath *string `toml:"deploy_pth"`
}

// Loader implements domain.ConfigLoader for TOML documents.
// Unknown keys are reported as warnings and otherwise ignored.
type Loader struct {
	logger Logger
}

// NewLoader creates a Loader.
func NewLoader(log Logger) *Loader {
	return &Loader{logger: log}
}

// Load reads domain.ConfigFileName in root and in every directory down to
// path, and overlays them so that deeper documents win. Only the document at
// path itself is subject to required and may redirect.
func (l *Loader) Load(ctx context.Context, root string, path domain.RelativePath, required bool) (*domain.ConfigDocument, error) {
	dirs := levels(path)
	merged := &domain.ConfigDocument{}

	for i, level := range dirs {
		leaf := i == len(dirs)-1
		doc, err := l.loadFile(ctx, filepath.Join(level.Under(root), domain.ConfigFileName), leaf && required)
		if err != nil {
			return nil, err
		}
		if doc != nil && doc.Redirect != nil && !leaf {
			l.logger.Warn(ctx, "ignoring redirect outside the state path", map[string]interface{}{
				"path":       doc.Source,
				"state_path": path.String(),
			})
		}
		overlay(merged, doc, leaf)
	}

	return merged, nil
}

func (l *Loader) loadFile(ctx context.Context, file string, required bool) (*domain.ConfigDocument, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, file)
		}
		l.logger.Debug(ctx, "no config document", map[string]interface{}{"path": file})
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ConfigParseError{Path: file, Err: err}
	}

	doc, err := l.Parse(ctx, file, data)
	if err != nil {
		return nil, err
	}

	l.logger.Debug(ctx, "loaded config document", map[string]interface{}{
		"path":     file,
		"vars":     len(doc.Variables),
		"redirect": doc.Redirect != nil,
	})

	return doc, nil
}

// levels returns the root followed by every prefix of path, ending at path.
func levels(path domain.RelativePath) []domain.RelativePath {
	out := []domain.RelativePath{""}
	if path.IsRoot() {
		return out
	}
	parts := strings.Split(string(path), "/")
	for i := range parts {
		out = append(out, domain.RelativePath(strings.Join(parts[:i+1], "/")))
	}
	return out
}

// overlay applies a deeper document onto dst. Set scalars replace and
// variables override by key. The redirect is taken from the leaf only.
func overlay(dst, deeper *domain.ConfigDocument, leaf bool) {
	if deeper == nil {
		return
	}

	dst.Source = deeper.Source
	dst.Sources = append(dst.Sources, deeper.Source)
	if deeper.ExecutableName != nil {
		dst.ExecutableName = deeper.ExecutableName
	}
	if deeper.ExecutionPath != nil {
		dst.ExecutionPath = deeper.ExecutionPath
	}

	if len(deeper.Variables) > 0 {
		var vars domain.VarMap
		vars.Merge(dst.Variables)
		vars.Merge(deeper.Variables)
		dst.Variables = vars.Bindings()
	}

	if leaf {
		dst.Redirect = deeper.Redirect
	}
}

// Parse decodes one document. source names the file in errors and logs.
func (l *Loader) Parse(ctx context.Context, source string, data []byte) (*domain.ConfigDocument, error) {
	var raw document

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&raw)

	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		l.logger.Warn(ctx, "ignoring unknown keys in config document", map[string]interface{}{
			"path": source,
			"keys": unknownKeys(strict),
		})
		raw = document{}
		err = toml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, &domain.ConfigParseError{Path: source, Err: describeDecodeError(err)}
	}

	return convert(source, raw)
}

func convert(source string, raw document) (*domain.ConfigDocument, error) {
	doc := &domain.ConfigDocument{
		Source:         source,
		Sources:        []string{source},
		ExecutableName: raw.ExeName,
		ExecutionPath:  raw.ExecutionPath,
	}

	for i, v := range raw.Vars {
		if v.Key == "" || v.EnvName == "" {
			return nil, &domain.ConfigParseError{
				Path: source,
				Err:  fmt.Errorf("vars[%d]: both key and env_name are required", i),
			}
		}
		doc.Variables = append(doc.Variables, domain.VarBinding{SecretKey: v.Key, EnvName: v.EnvName})
	}

	if raw.Redirect != nil {
		r := &domain.Redirect{Repo: raw.Redirect.Repo, GitRef: raw.Redirect.Tag}
		if raw.Redirect.DeployPath != nil {
			p, err := domain.NewRelativePath(*raw.Redirect.DeployPath)
			if err != nil {
				return nil, &domain.ConfigParseError{Path: source, Err: fmt.Errorf("redirect.deploy_pth: %w", err)}
			}
			r.Path = &p
		}
		doc.Redirect = r
	}

	return doc, nil
}

func unknownKeys(strict *toml.StrictMissingError) []string {
	keys := make([]string, 0, len(strict.Errors))
	for _, e := range strict.Errors {
		keys = append(keys, strings.Join(e.Key(), "."))
	}
	return keys
}

// describeDecodeError adds the line and column go-toml reports.
func describeDecodeError(err error) error {
	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return fmt.Errorf("line %d, column %d: %w", row, col, err)
	}
	return err
}

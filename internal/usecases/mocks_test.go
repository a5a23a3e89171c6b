package usecases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

const (
	commit1  = "1111111111111111111111111111111111111111"
	commit2  = "2222222222222222222222222222222222222222"
	commit3  = "3333333333333333333333333333333333333333"
	infraURL = "https://example.com/owner/infra.git"
	appURL   = "https://example.com/owner/app.git"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{})          {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]interface{})           {}
func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]interface{}) {}

// fakeMaterializer maps origins to pre-built directories.
type fakeMaterializer struct {
	dirs  map[domain.Origin]string
	err   error
	calls int
}

func (m *fakeMaterializer) Materialize(_ context.Context, origin domain.Origin) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if origin.Kind == domain.OriginLocal {
		return origin.Location, nil
	}
	dir, ok := m.dirs[origin]
	if !ok {
		return "", fmt.Errorf("%w: no tree for %s", domain.ErrMaterialize, origin)
	}
	return dir, nil
}

// fakeLoader serves documents keyed by the state directory.
type fakeLoader struct {
	docs     map[string]*domain.ConfigDocument
	errs     map[string]error
	required map[string]bool
	calls    int
}

func (l *fakeLoader) Load(_ context.Context, root string, path domain.RelativePath, required bool) (*domain.ConfigDocument, error) {
	l.calls++
	key := path.Under(root)
	l.required[key] = required

	if err, ok := l.errs[key]; ok {
		return nil, err
	}
	if doc, ok := l.docs[key]; ok {
		return doc, nil
	}
	if required {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, key)
	}
	return &domain.ConfigDocument{}, nil
}

type refCall struct {
	kind     domain.OriginKind
	location string
	ref      string
	latest   bool
}

// fakeRefResolver answers from a table keyed by location and ref.
type fakeRefResolver struct {
	commits map[string]string
	calls   []refCall
}

func (r *fakeRefResolver) Resolve(_ context.Context, kind domain.OriginKind, location, ref string, latest bool) (string, error) {
	r.calls = append(r.calls, refCall{kind: kind, location: location, ref: ref, latest: latest})
	if commit, ok := r.commits[location+"@"+ref]; ok {
		return commit, nil
	}
	return "", fmt.Errorf("%w: %s in %s", domain.ErrRefNotFound, ref, location)
}

// recordingMetrics captures reported values.
type recordingMetrics struct {
	mu         sync.Mutex
	refSources []string
	outcomes   []string
	redirects  []int
	bound      map[string]int
}

func (m *recordingMetrics) RefLookup(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refSources = append(m.refSources, source)
}

func (m *recordingMetrics) ResolutionFinished(outcome string, redirects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	m.redirects = append(m.redirects, redirects)
}

func (m *recordingMetrics) SecretsBound(scope string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound == nil {
		m.bound = make(map[string]int)
	}
	m.bound[scope] += n
}

// fixture wires fakes for the convergence loop against real directories,
// so executables can be checked on disk.
type fixture struct {
	t            *testing.T
	materializer *fakeMaterializer
	loader       *fakeLoader
	refs         *fakeRefResolver
	metrics      *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		t:            t,
		materializer: &fakeMaterializer{dirs: make(map[domain.Origin]string)},
		loader: &fakeLoader{
			docs:     make(map[string]*domain.ConfigDocument),
			errs:     make(map[string]error),
			required: make(map[string]bool),
		},
		refs:    &fakeRefResolver{commits: make(map[string]string)},
		metrics: &recordingMetrics{},
	}
}

// tree returns a fresh directory standing in for origin's tree.
func (f *fixture) tree(origin domain.Origin) string {
	f.t.Helper()
	dir := f.t.TempDir()
	if origin.IsGit() {
		f.materializer.dirs[origin] = dir
	}
	return dir
}

// doc registers a document at dir/path.
func (f *fixture) doc(dir, path string, doc *domain.ConfigDocument) {
	f.loader.docs[domain.MustRelativePath(path).Under(dir)] = doc
}

// file creates an empty file at dir/rel.
func (f *fixture) file(dir, rel string) string {
	f.t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte("#!/bin/sh\n"), 0o755))
	return full
}

func (f *fixture) resolver(settings ResolverSettings) *StateResolver {
	return NewStateResolver(f.materializer, f.loader, f.refs, &mockLogger{}, f.metrics, settings)
}

func strPtr(s string) *string { return &s }

func pathPtr(p string) *domain.RelativePath {
	rp := domain.MustRelativePath(p)
	return &rp
}

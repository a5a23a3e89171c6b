// Package output provides adapters for writing application output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Format selects how results are rendered.
type Format string

const (
	// FormatText is a human readable listing.
	FormatText Format = "text"
	// FormatJSON is an indented JSON document.
	FormatJSON Format = "json"
)

// ParseFormat validates an output flag value. Empty means FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Writer writes command results to the configured output destination.
// By default, it writes text to stdout. Secret values never pass through it.
type Writer struct {
	out    io.Writer
	format Format
}

// NewWriter creates a new Writer that writes text to stdout.
func NewWriter() *Writer {
	return &Writer{out: os.Stdout, format: FormatText}
}

// NewWriterWithOutput creates a new Writer with a custom output destination.
func NewWriterWithOutput(out io.Writer, format Format) *Writer {
	if format == "" {
		format = FormatText
	}
	return &Writer{out: out, format: format}
}

type stateDocument struct {
	Root           string            `json:"root"`
	Final          string            `json:"final"`
	Chain          []string          `json:"chain"`
	ExecutablePath string            `json:"executable_path"`
	ExecutionPath  string            `json:"execution_path"`
	Bindings       []bindingDocument `json:"bindings"`
}

type bindingDocument struct {
	SecretKey string `json:"secret_key"`
	EnvName   string `json:"env_name"`
	Scope     string `json:"scope"`
}

// WriteResolvedState writes the converged state.
func (w *Writer) WriteResolvedState(state *domain.ResolvedState) error {
	if w.format == FormatJSON {
		doc := stateDocument{
			Root:           state.Root.String(),
			Final:          state.Final.String(),
			Chain:          make([]string, 0, len(state.Chain)),
			ExecutablePath: state.ExecutablePath,
			ExecutionPath:  state.ExecutionPath,
			Bindings:       make([]bindingDocument, 0, len(state.Bindings)),
		}
		for _, a := range state.Chain {
			doc.Chain = append(doc.Chain, a.String())
		}
		for _, b := range state.Bindings {
			doc.Bindings = append(doc.Bindings, bindingDocument{
				SecretKey: b.SecretKey,
				EnvName:   b.EnvName,
				Scope:     b.Scope.String(),
			})
		}
		return w.writeJSON(doc)
	}

	p := &printer{w: w.out}
	p.printf("root:       %s\n", state.Root)
	p.printf("final:      %s\n", state.Final)
	p.printf("chain:\n")
	for i, a := range state.Chain {
		p.printf("  %d. %s\n", i+1, a)
	}
	p.printf("executable: %s\n", state.ExecutablePath)
	p.printf("workdir:    %s\n", state.ExecutionPath)
	if len(state.Bindings) == 0 {
		p.printf("bindings:   none\n")
		return p.err
	}
	p.printf("bindings:\n")
	for _, b := range state.Bindings {
		p.printf("  %s <- %s [%s]\n", b.EnvName, b.SecretKey, b.Scope)
	}
	return p.err
}

type refDocument struct {
	RepoURL    string    `json:"repo_url"`
	RefName    string    `json:"ref_name"`
	CommitID   string    `json:"commit_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// WriteRefCacheEntries writes cached ref resolutions, one per line.
func (w *Writer) WriteRefCacheEntries(entries []domain.RefCacheEntry) error {
	if w.format == FormatJSON {
		docs := make([]refDocument, 0, len(entries))
		for _, e := range entries {
			docs = append(docs, refDocument(e))
		}
		return w.writeJSON(docs)
	}

	p := &printer{w: w.out}
	for _, e := range entries {
		p.printf("%s %s %s %s\n", e.RepoURL, e.RefName, e.CommitID, e.ResolvedAt.UTC().Format(time.RFC3339))
	}
	return p.err
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// Package fakes provides in-memory collaborators.* implementations for
// tests, in the texture of goa-ai's registry/store/memory: plain maps
// guarded by a mutex. Workspace methods return ctx.Err() for a done
// context; the other fakes do not check ctx.
package fakes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/siteforge-ai/core/runtime/collaborators"
)

// ErrNotFound is returned by fakes whose lookup key is absent.
var ErrNotFound = errors.New("fakes: not found")

// LLMProvider is a scripted collaborators.LLMProvider: each Complete call
// consumes the next entry of Responses (cycling if the script is shorter
// than the number of calls), so tests can assert on call count and inputs.
type LLMProvider struct {
	mu        sync.Mutex
	Responses []collaborators.CompletionResponse
	Requests  []collaborators.CompletionRequest
}

var _ collaborators.LLMProvider = (*LLMProvider)(nil)

func (f *LLMProvider) Complete(_ context.Context, req collaborators.CompletionRequest) (collaborators.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.Responses) == 0 {
		return collaborators.CompletionResponse{}, nil
	}
	resp := f.Responses[(len(f.Requests)-1)%len(f.Responses)]
	return resp, nil
}

// Workspace is an in-memory collaborators.Workspace keyed by run id + path.
type Workspace struct {
	mu    sync.RWMutex
	files map[string]map[string][]byte // runID -> path -> content
}

var _ collaborators.Workspace = (*Workspace)(nil)

// NewWorkspace builds an empty Workspace.
func NewWorkspace() *Workspace {
	return &Workspace{files: make(map[string]map[string][]byte)}
}

func (w *Workspace) WriteFile(ctx context.Context, runID, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[runID] == nil {
		w.files[runID] = make(map[string][]byte)
	}
	w.files[runID][path] = content
	return nil
}

func (w *Workspace) ReadFile(ctx context.Context, runID, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	content, ok := w.files[runID][path]
	if !ok {
		return nil, fmt.Errorf("fakes: %w: %s/%s", ErrNotFound, runID, path)
	}
	return content, nil
}

func (w *Workspace) ListFiles(ctx context.Context, runID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.files[runID]))
	for p := range w.files[runID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Workspace) DeleteFile(ctx context.Context, runID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.files[runID], path)
	return nil
}

// HTMLRenderer is a deterministic collaborators.HTMLRenderer: it renders a
// minimal HTML skeleton from the component/style input so tests can assert
// on structure without depending on a real templating engine.
type HTMLRenderer struct{}

var _ collaborators.HTMLRenderer = (*HTMLRenderer)(nil)

func (HTMLRenderer) Render(_ context.Context, page collaborators.RenderInput) (collaborators.RenderOutput, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body data-page=%q>", page.PageName)
	for name := range page.Components {
		fmt.Fprintf(&b, "<div data-component=%q></div>", name)
	}
	b.WriteString("</body></html>")
	html := b.String()
	sum := sha256.Sum256([]byte(html))
	return collaborators.RenderOutput{PageName: page.PageName, HTML: html, Hash: hex.EncodeToString(sum[:])}, nil
}

func (HTMLRenderer) Diff(_ context.Context, before, after collaborators.RenderOutput) (string, error) {
	if before.Hash == after.Hash {
		return "", nil
	}
	return fmt.Sprintf("page %q changed (%s -> %s)", after.PageName, before.Hash[:8], after.Hash[:8]), nil
}

func (HTMLRenderer) Preview(_ context.Context, page collaborators.RenderOutput) (string, error) {
	return "memory://preview/" + page.PageName + "/" + page.Hash, nil
}

// DataStore is an in-memory collaborators.DataStore keyed by run id.
type DataStore struct {
	mu     sync.Mutex
	schema map[string]bool
	tables map[string]map[string][]map[string]any // runID -> table -> rows
}

var _ collaborators.DataStore = (*DataStore)(nil)

// NewDataStore builds an empty DataStore.
func NewDataStore() *DataStore {
	return &DataStore{schema: make(map[string]bool), tables: make(map[string]map[string][]map[string]any)}
}

func (d *DataStore) CreateSchema(_ context.Context, runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schema[runID] = true
	if d.tables[runID] == nil {
		d.tables[runID] = make(map[string][]map[string]any)
	}
	return nil
}

func (d *DataStore) CreateTables(_ context.Context, runID string, dataModel map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.schema[runID] {
		return fmt.Errorf("fakes: CreateTables called before CreateSchema for run %s", runID)
	}
	for table := range dataModel {
		if _, ok := d.tables[runID][table]; !ok {
			d.tables[runID][table] = nil
		}
	}
	return nil
}

func (d *DataStore) Insert(_ context.Context, runID, table string, rows []map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[runID][table] = append(d.tables[runID][table], rows...)
	return nil
}

func (d *DataStore) Query(_ context.Context, runID, table string, filter map[string]any) ([]map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []map[string]any
	for _, row := range d.tables[runID][table] {
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (d *DataStore) DropSchema(_ context.Context, runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.schema, runID)
	delete(d.tables, runID)
	return nil
}

func matches(row, filter map[string]any) bool {
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

// Classifier is a keyword-based collaborators.Classifier: it matches the
// first configured keyword found in the input, falling back to Default.
type Classifier struct {
	Keywords map[string]string // keyword -> product type
	Default  string
}

var _ collaborators.Classifier = (*Classifier)(nil)

func (c Classifier) Classify(_ context.Context, userInput string) (string, float64, error) {
	lower := strings.ToLower(userInput)
	for keyword, productType := range c.Keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return productType, 1.0, nil
		}
	}
	if c.Default != "" {
		return c.Default, 0.5, nil
	}
	return "", 0, fmt.Errorf("fakes: no keyword matched and no default configured")
}

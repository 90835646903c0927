package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

const procedureFileName = "procedures"

// Procedure is a named, parameterized definition. The body is inert text
// until a Go handler is registered under the same name; definitions alone
// never execute.
type Procedure struct {
	Name      string    `json:"name"`
	Params    []string  `json:"params,omitempty"`
	Body      string    `json:"body"`
	Source    string    `json:"source,omitempty"` // "playbook", "api", or "persisted"
	CreatedAt time.Time `json:"createdAt"`
}

func (p Procedure) item() Item {
	meta := map[string]string{"source": p.Source}
	if len(p.Params) > 0 {
		meta["params"] = strings.Join(p.Params, ",")
	}
	return Item{ID: p.Name, Content: p.Body, Metadata: meta, Timestamp: p.CreatedAt}
}

// Handler executes a procedure with bound arguments.
type Handler func(ctx context.Context, args map[string]string) (string, error)

// proceduralStore keeps named procedure definitions plus the runtime handler
// registry. Definitions persist encrypted; handlers exist only in-process.
// Serialized definitions are rehydrated on load only when code loading is
// enabled; with the flag off, the on-disk file is left untouched and its
// contents stay out of the registry.
type proceduralStore struct {
	col         *filestore.Collection[string, Procedure]
	codeLoading bool
	logger      logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func newProceduralStore(dir string, sec *secstore.Store, codeLoading bool, logger logging.Logger) *proceduralStore {
	col := filestore.NewCollection[string, Procedure](filestore.CollectionConfig{
		FilePath: filepath.Join(dir, procedureFileName),
		Name:     "procedural",
	})
	secstore.BindCollection(col, sec, procedureFileName)
	return &proceduralStore{
		col:         col,
		codeLoading: codeLoading,
		logger:      logger,
		handlers:    make(map[string]Handler),
	}
}

func (p *proceduralStore) load() error {
	if err := p.col.EnsureDir(); err != nil {
		return err
	}
	if !p.codeLoading {
		// Refuse to rehydrate serialized procedures. The file stays on disk
		// for the day the flag is set, but nothing from it becomes callable
		// or even visible in this process.
		if _, err := os.Stat(p.col.FilePath()); err == nil {
			p.logger.Warn("procedural: code loading disabled, persisted procedures not rehydrated")
		}
		return nil
	}
	if err := p.col.Load(); err != nil {
		return fmt.Errorf("load procedures: %w", err)
	}
	if n := p.col.Len(); n > 0 {
		p.logger.Info("procedural: rehydrated %d procedure definitions", n)
	}
	return nil
}

// define stores a procedure definition. Definitions from the API or a
// playbook are always accepted; only rehydration from disk is gated.
func (p *proceduralStore) define(proc Procedure) (Procedure, error) {
	proc.Name = strings.TrimSpace(proc.Name)
	if proc.Name == "" {
		return Procedure{}, errs.NewConfigError("procedure name is required")
	}
	if proc.CreatedAt.IsZero() {
		proc.CreatedAt = time.Now()
	}
	if proc.Source == "" {
		proc.Source = "api"
	}
	if err := p.col.Put(proc.Name, proc); err != nil {
		return Procedure{}, fmt.Errorf("store procedure %q: %w", proc.Name, err)
	}
	return proc, nil
}

// Register binds a Go handler to a procedure name, making it callable.
func (p *proceduralStore) register(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// invoke runs the handler registered under name. A definition without a
// handler is not callable, whatever its source.
func (p *proceduralStore) invoke(ctx context.Context, name string, args map[string]string) (string, error) {
	p.mu.RLock()
	h := p.handlers[name]
	p.mu.RUnlock()
	if h != nil {
		return h(ctx, args)
	}
	if _, ok := p.col.Get(name); ok {
		return "", errs.NewPermissionDenied(fmt.Sprintf("procedure %q has no registered handler", name))
	}
	return "", errs.NewNotFound("procedure", name)
}

func (p *proceduralStore) get(name string) (Procedure, bool) {
	return p.col.Get(name)
}

// matches returns procedures whose name or body contains the query,
// case-insensitive. An exact name match scores 1, others 0.5.
func (p *proceduralStore) matches(query string, k int) []Result {
	q := strings.ToLower(strings.TrimSpace(query))
	all := p.col.Snapshot()
	results := make([]Result, 0, len(all))
	for name, proc := range all {
		lower := strings.ToLower(name)
		switch {
		case lower == q:
			results = append(results, Result{Kind: KindProcedural, Item: proc.item(), Score: 1})
		case q != "" && (strings.Contains(lower, q) || strings.Contains(strings.ToLower(proc.Body), q)):
			results = append(results, Result{Kind: KindProcedural, Item: proc.item(), Score: 0.5})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Item.ID < results[j].Item.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (p *proceduralStore) count() int {
	return p.col.Len()
}

func (p *proceduralStore) persist() error {
	return p.col.Persist()
}

// playbookFile is the YAML schema for seeding procedure definitions.
type playbookFile struct {
	Procedures []struct {
		Name   string   `yaml:"name"`
		Params []string `yaml:"params"`
		Body   string   `yaml:"body"`
	} `yaml:"procedures"`
}

// seedPlaybooks loads every *.yaml/*.yml file under dir and defines its
// procedures. Seeded definitions overwrite persisted ones with the same name,
// so playbooks on disk stay authoritative across restarts.
func (p *proceduralStore) seedPlaybooks(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read playbook dir: %w", err)
	}

	seeded := 0
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read playbook %s: %w", name, err)
		}
		var pb playbookFile
		if err := yaml.Unmarshal(data, &pb); err != nil {
			return fmt.Errorf("parse playbook %s: %w", name, err)
		}
		for _, def := range pb.Procedures {
			if _, err := p.define(Procedure{
				Name:   def.Name,
				Params: def.Params,
				Body:   def.Body,
				Source: "playbook",
			}); err != nil {
				return fmt.Errorf("playbook %s: %w", name, err)
			}
			seeded++
		}
	}
	if seeded > 0 {
		p.logger.Info("procedural: seeded %d procedures from playbooks", seeded)
	}
	return nil
}

// Package progress persists which configuration steps were completed.
package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const emptyDocument = `{"steps":{}}`

// Store is a JSON backed record of completed steps.
//
// Document layout:
//
//	{"last_completed": "03_c.param",
//	 "steps": {"03_c.param": {"completed": true, "completed_at": "..."}}}
type Store struct {
	mu   sync.Mutex
	path string
	doc  string
	now  func() time.Time
}

// Open loads the store at path. A missing file starts an empty document.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("progress file path required")
	}
	s := &Store{path: path, doc: emptyDocument, now: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("progress file %s is not valid JSON", path)
	}
	s.doc = string(data)
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// MarkCompleted records step as completed and persists the document.
func (s *Store) MarkCompleted(step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := "steps." + escape(step)
	doc, err := sjson.Set(s.doc, key+".completed", true)
	if err != nil {
		return fmt.Errorf("mark %s completed: %w", step, err)
	}
	doc, err = sjson.Set(doc, key+".completed_at", s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark %s completed: %w", step, err)
	}
	doc, err = sjson.Set(doc, "last_completed", step)
	if err != nil {
		return fmt.Errorf("mark %s completed: %w", step, err)
	}
	if err := writeAtomic(s.path, []byte(doc)); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Completed reports whether step was recorded as completed.
func (s *Store) Completed(step string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gjson.Get(s.doc, "steps."+escape(step)+".completed").Bool()
}

// CompletedSteps returns every completed step sorted by name.
func (s *Store) CompletedSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var steps []string
	gjson.Get(s.doc, "steps").ForEach(func(key, value gjson.Result) bool {
		if value.Get("completed").Bool() {
			steps = append(steps, key.String())
		}
		return true
	})
	sort.Strings(steps)
	return steps
}

// LastCompleted returns the most recently completed step.
func (s *Store) LastCompleted() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := gjson.Get(s.doc, "last_completed")
	if !last.Exists() || last.String() == "" {
		return "", false
	}
	return last.String(), true
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escape(key string) string {
	return pathEscaper.Replace(key)
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create progress directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

package pool

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/pkg/models"
)

func newPool(t *testing.T) *Pool {
	t.Helper()
	return New(zap.NewNop().Sugar())
}

func register(t *testing.T, p *Pool, w *models.Worker) {
	t.Helper()
	if err := p.Register(Registration{Worker: w, Capability: &chat.Scripted{Response: "ok"}}); err != nil {
		t.Fatalf("Register(%s) error = %v", w.ID, err)
	}
}

func TestRegisterRequiresIDAndCapability(t *testing.T) {
	p := newPool(t)
	if err := p.Register(Registration{Worker: &models.Worker{}, Capability: &chat.Scripted{}}); err == nil {
		t.Error("expected error for missing ID")
	}
	if err := p.Register(Registration{Worker: &models.Worker{ID: "w1"}}); err == nil {
		t.Error("expected error for missing capability")
	}
}

func TestClaimIsCompareAndSet(t *testing.T) {
	p := newPool(t)
	register(t, p, &models.Worker{ID: "w1", Name: "Ada"})

	if err := p.Claim("w1", "s1"); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if err := p.Claim("w1", "s2"); err == nil {
		t.Fatal("second Claim() must fail while worker is busy")
	}

	w := p.Get("w1")
	if w.Status != models.WorkerStatusThinking || w.CurrentSubTaskID != "s1" {
		t.Errorf("unexpected worker state after claim: %+v", w)
	}

	p.Release("w1", true)
	w = p.Get("w1")
	if w.Status != models.WorkerStatusIdle || w.CurrentSubTaskID != "" {
		t.Errorf("unexpected worker state after release: %+v", w)
	}
	if w.CompletedTasks != 1 {
		t.Errorf("expected completed counter 1, got %d", w.CompletedTasks)
	}
}

func TestReleaseWithoutSuccessKeepsCounter(t *testing.T) {
	p := newPool(t)
	register(t, p, &models.Worker{ID: "w1", Name: "Ada"})
	if err := p.Claim("w1", "s1"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	p.Release("w1", false)
	if got := p.Get("w1").CompletedTasks; got != 0 {
		t.Errorf("expected counter 0 after failed release, got %d", got)
	}
}

func TestSelectPrefersSkillMatch(t *testing.T) {
	p := newPool(t)
	register(t, p, &models.Worker{ID: "w1", Name: "Ada", Skills: []string{"golang", "databases"}, CompletedTasks: 9})
	register(t, p, &models.Worker{ID: "w2", Name: "Brin", Role: "frontend engineer", Skills: []string{"react"}})

	w := p.Select([]string{"React"})
	if w == nil || w.ID != "w2" {
		t.Fatalf("expected skill match w2, got %+v", w)
	}

	// Role label matches too.
	w = p.Select([]string{"frontend"})
	if w == nil || w.ID != "w2" {
		t.Fatalf("expected role match w2, got %+v", w)
	}
}

func TestSelectFallsBackToBusiestGeneralist(t *testing.T) {
	p := newPool(t)
	register(t, p, &models.Worker{ID: "w1", Name: "Ada", Skills: []string{"golang"}, CompletedTasks: 2})
	register(t, p, &models.Worker{ID: "w2", Name: "Brin", Skills: []string{"react"}, CompletedTasks: 5})

	w := p.Select([]string{"embedded firmware"})
	if w == nil || w.ID != "w2" {
		t.Fatalf("expected most-completed fallback w2, got %+v", w)
	}
}

func TestSelectExcluding(t *testing.T) {
	p := newPool(t)
	register(t, p, &models.Worker{ID: "w1", Name: "Ada", Skills: []string{"golang"}})
	register(t, p, &models.Worker{ID: "w2", Name: "Brin", Skills: []string{"golang"}})

	w := p.SelectExcluding([]string{"golang"}, "w1")
	if w == nil || w.ID != "w2" {
		t.Fatalf("expected w2, got %+v", w)
	}

	p.SetStatus("w2", models.WorkerStatusError)
	if w := p.SelectExcluding([]string{"golang"}, "w1"); w != nil {
		t.Fatalf("expected nil when only excluded/busy workers remain, got %+v", w)
	}
}

func TestSelectReturnsNilWhenNoneIdle(t *testing.T) {
	p := newPool(t)
	if w := p.Select(nil); w != nil {
		t.Fatalf("expected nil from empty pool, got %+v", w)
	}
}

func TestLoadPersonaDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ada.yaml"), "name: Ada\nrole: backend engineer\nskills: [golang, sql]\n")
	writeFile(t, filepath.Join(dir, "brin.yml"), "name: Brin\nskills: [react]\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a persona")

	personas, err := LoadPersonaDir(dir)
	if err != nil {
		t.Fatalf("LoadPersonaDir() error = %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(personas))
	}
	if personas[0].ID != "ada" {
		t.Errorf("expected ID derived from file name, got %q", personas[0].ID)
	}

	w := personas[0].Worker()
	if w.Status != models.WorkerStatusIdle {
		t.Errorf("expected idle worker, got %s", w.Status)
	}
}

func TestLoadPersonaRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anon.yaml")
	writeFile(t, path, "role: mystery\n")
	if _, err := LoadPersona(path); err == nil {
		t.Fatal("expected error for persona without a name")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

package store

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"testing"
	"time"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// fakeClock 是可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeFactory 为每个用例创建一个空存储
type storeFactory func(t *testing.T, clock *fakeClock) injctx.Store

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustCreate(t *testing.T, s injctx.Store, c *injctx.Context) string {
	t.Helper()
	id, err := s.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("create %q: %v", c.ID, err)
	}
	return id
}

func mustGet(t *testing.T, s injctx.Store, id string) *injctx.Context {
	t.Helper()
	c, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %q: %v", id, err)
	}
	return c
}

func mustRelate(t *testing.T, s injctx.Store, from, to, relType string, strength float64) {
	t.Helper()
	err := s.CreateRelationship(context.Background(), injctx.Relationship{
		SourceID: from, TargetID: to, Type: relType, Strength: strength,
	})
	if err != nil {
		t.Fatalf("relate %s -> %s: %v", from, to, err)
	}
}

func ids(contexts []*injctx.Context) []string {
	out := make([]string, 0, len(contexts))
	for _, c := range contexts {
		out = append(out, c.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runStoreContract 对任意后端执行同一组行为测试
func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateGetRoundTrip", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		expires := clock.Now().Add(time.Hour)
		mustCreate(t, s, &injctx.Context{
			ID:             "ctx-1",
			Type:           injctx.ContextTypeProject,
			Title:          "Payments",
			Content:        "Migrate billing to the new ledger",
			ParentID:       "root",
			Extensions:     map[string]string{"owner": "team-a"},
			RelevanceScore: 0.7,
			ExpiresAt:      &expires,
		})

		got := mustGet(t, s, "ctx-1")
		if got.Type != injctx.ContextTypeProject {
			t.Errorf("expected type project, got %s", got.Type)
		}
		if got.Title != "Payments" || got.Content != "Migrate billing to the new ledger" {
			t.Errorf("unexpected title/content: %q %q", got.Title, got.Content)
		}
		if got.ParentID != "root" {
			t.Errorf("expected parent root, got %q", got.ParentID)
		}
		if got.Extensions["owner"] != "team-a" {
			t.Errorf("expected extension owner=team-a, got %v", got.Extensions)
		}
		if !approxEqual(got.RelevanceScore, 0.7) {
			t.Errorf("expected score 0.7, got %f", got.RelevanceScore)
		}
		if !got.IsActive {
			t.Error("expected new context to be active")
		}
		if !got.CreatedAt.Equal(clock.Now()) {
			t.Errorf("expected created_at %v, got %v", clock.Now(), got.CreatedAt)
		}
		if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
			t.Errorf("expected expires_at %v, got %v", expires, got.ExpiresAt)
		}
	})

	t.Run("CreateDefaults", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		id := mustCreate(t, s, &injctx.Context{Title: "untyped", IsActive: false})
		if id == "" {
			t.Fatal("expected generated id")
		}
		got := mustGet(t, s, id)
		if got.Type != injctx.ContextTypeOther {
			t.Errorf("expected empty type to become other, got %s", got.Type)
		}
		if !got.IsActive {
			t.Error("expected create to force active")
		}

		_, err := s.Create(ctx, &injctx.Context{ID: "bad", Type: "unknown"})
		if !stderrors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for unknown type, got %v", err)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "dup", Title: "first"})
		_, err := s.Create(ctx, &injctx.Context{ID: "dup", Title: "second"})
		if !stderrors.Is(err, errors.ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey, got %v", err)
		}
		if got := mustGet(t, s, "dup"); got.Title != "first" {
			t.Errorf("expected original record kept, got title %q", got.Title)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		_, err := s.Get(ctx, "missing")
		if !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		mustCreate(t, s, &injctx.Context{ID: "u", Type: injctx.ContextTypeTask, Title: "old", RelevanceScore: 0.3})
		created := clock.Now()
		clock.Advance(time.Minute)

		err := s.Update(ctx, &injctx.Context{ID: "u", Title: "new", Content: "body", RelevanceScore: 0.4, IsActive: true})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		got := mustGet(t, s, "u")
		if got.Title != "new" || got.Content != "body" {
			t.Errorf("expected updated fields, got %q %q", got.Title, got.Content)
		}
		if got.Type != injctx.ContextTypeTask {
			t.Errorf("expected empty type to keep stored type, got %s", got.Type)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("expected created_at unchanged, got %v", got.CreatedAt)
		}
		if !got.UpdatedAt.Equal(clock.Now()) {
			t.Errorf("expected updated_at %v, got %v", clock.Now(), got.UpdatedAt)
		}

		err = s.Update(ctx, &injctx.Context{ID: "missing", Title: "x"})
		if !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound for missing id, got %v", err)
		}
		err = s.Update(ctx, &injctx.Context{Title: "no id"})
		if !stderrors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty id, got %v", err)
		}
	})

	t.Run("Hierarchy", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "root", Title: "root"})
		mustCreate(t, s, &injctx.Context{ID: "mid", Title: "mid", ParentID: "root"})
		mustCreate(t, s, &injctx.Context{ID: "leaf", Title: "leaf", ParentID: "mid"})

		chain, err := s.GetHierarchy(ctx, "leaf")
		if err != nil {
			t.Fatalf("hierarchy: %v", err)
		}
		if want := []string{"root", "mid", "leaf"}; !equalStrings(ids(chain), want) {
			t.Errorf("expected %v, got %v", want, ids(chain))
		}

		chain, err = s.GetHierarchy(ctx, "root")
		if err != nil {
			t.Fatalf("hierarchy: %v", err)
		}
		if len(chain) != 1 {
			t.Errorf("expected single-element chain for root, got %v", ids(chain))
		}

		_, err = s.GetHierarchy(ctx, "missing")
		if !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("HierarchyCycleAndDangling", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "a", ParentID: "b"})
		mustCreate(t, s, &injctx.Context{ID: "b", ParentID: "a"})
		mustCreate(t, s, &injctx.Context{ID: "orphan", ParentID: "ghost"})

		chain, err := s.GetHierarchy(ctx, "a")
		if err != nil {
			t.Fatalf("hierarchy: %v", err)
		}
		if want := []string{"b", "a"}; !equalStrings(ids(chain), want) {
			t.Errorf("expected partial chain %v, got %v", want, ids(chain))
		}

		chain, err = s.GetHierarchy(ctx, "orphan")
		if err != nil {
			t.Fatalf("hierarchy: %v", err)
		}
		if want := []string{"orphan"}; !equalStrings(ids(chain), want) {
			t.Errorf("expected %v, got %v", want, ids(chain))
		}
	})

	t.Run("Related", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "src"})
		mustCreate(t, s, &injctx.Context{ID: "dep"})
		mustCreate(t, s, &injctx.Context{ID: "ref"})
		mustRelate(t, s, "src", "dep", "depends_on", 0.8)
		mustRelate(t, s, "src", "ref", "references", 0.3)

		all, err := s.GetRelated(ctx, "src", "")
		if err != nil {
			t.Fatalf("related: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 related, got %d", len(all))
		}
		if all[0].Context.ID != "dep" || !approxEqual(all[0].Strength, 0.8) || all[0].Type != "depends_on" {
			t.Errorf("unexpected first related: %+v", all[0])
		}

		filtered, err := s.GetRelated(ctx, "src", "references")
		if err != nil {
			t.Fatalf("related: %v", err)
		}
		if len(filtered) != 1 || filtered[0].Context.ID != "ref" {
			t.Errorf("expected only ref, got %+v", filtered)
		}

		none, err := s.GetRelated(ctx, "dep", "")
		if err != nil {
			t.Fatalf("related: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no outgoing edges, got %d", len(none))
		}

		_, err = s.GetRelated(ctx, "missing", "")
		if !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		err = s.CreateRelationship(ctx, injctx.Relationship{SourceID: "src", TargetID: "dep"})
		if !stderrors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty type, got %v", err)
		}
		err = s.CreateRelationship(ctx, injctx.Relationship{SourceID: "missing", TargetID: "dep", Type: "x"})
		if !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound for missing source, got %v", err)
		}
	})

	t.Run("RelationshipStrengthRange", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		mustCreate(t, s, &injctx.Context{ID: "src"})
		mustCreate(t, s, &injctx.Context{ID: "dst"})

		for _, strength := range []float64{-0.1, 1.5, 5, math.NaN()} {
			err := s.CreateRelationship(ctx, injctx.Relationship{SourceID: "src", TargetID: "dst", Type: "x", Strength: strength})
			if !stderrors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("strength %v: expected ErrInvalidInput, got %v", strength, err)
			}
		}
		for _, strength := range []float64{0, 1} {
			mustRelate(t, s, "src", "dst", "x", strength)
		}

		related, err := s.GetRelated(ctx, "src", "")
		if err != nil {
			t.Fatalf("related: %v", err)
		}
		if len(related) != 2 {
			t.Errorf("expected only the 2 in-range edges, got %d", len(related))
		}
	})

	t.Run("Reinforce", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "hot", RelevanceScore: 0.5})
		mustCreate(t, s, &injctx.Context{ID: "near", RelevanceScore: 0.5})
		mustCreate(t, s, &injctx.Context{ID: "top", RelevanceScore: 0.95})
		mustRelate(t, s, "hot", "near", "depends_on", 0.5)
		mustRelate(t, s, "hot", "near", "references", 0.5)
		mustRelate(t, s, "hot", "hot", "self", 1.0)

		if err := s.Reinforce(ctx, "hot"); err != nil {
			t.Fatalf("reinforce: %v", err)
		}

		if got := mustGet(t, s, "hot").RelevanceScore; !approxEqual(got, 0.6) {
			t.Errorf("expected 0.6 after reinforce, got %f", got)
		}
		// 两条边指向同一目标，只衰减一次
		if got := mustGet(t, s, "near").RelevanceScore; !approxEqual(got, 0.45) {
			t.Errorf("expected 0.45 after decay, got %f", got)
		}

		if err := s.Reinforce(ctx, "top"); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
		if got := mustGet(t, s, "top").RelevanceScore; !approxEqual(got, 1.0) {
			t.Errorf("expected score capped at 1.0, got %f", got)
		}

		if err := s.Reinforce(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PruneAndActivate", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "low1", RelevanceScore: 0.1})
		mustCreate(t, s, &injctx.Context{ID: "high", RelevanceScore: 0.9})
		mustCreate(t, s, &injctx.Context{ID: "low2", RelevanceScore: 0.2})

		pruned, err := s.Prune(ctx, 0.3)
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if want := []string{"low1", "low2"}; !equalStrings(pruned, want) {
			t.Errorf("expected pruned %v, got %v", want, pruned)
		}
		if mustGet(t, s, "low1").IsActive {
			t.Error("expected low1 inactive")
		}

		// 已剪枝的不会再次返回
		again, err := s.Prune(ctx, 0.3)
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("expected nothing pruned twice, got %v", again)
		}

		if err := s.Activate(ctx, "low1"); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !mustGet(t, s, "low1").IsActive {
			t.Error("expected low1 active after activate")
		}
		if err := s.Activate(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindRelevant", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		past := clock.Now().Add(-time.Minute)
		mustCreate(t, s, &injctx.Context{ID: "one", Type: injctx.ContextTypeProject, Title: "Billing", Content: "ledger rollout", RelevanceScore: 0.5})
		mustCreate(t, s, &injctx.Context{ID: "two", Type: injctx.ContextTypeTask, Title: "billing LEDGER", RelevanceScore: 0.5})
		mustCreate(t, s, &injctx.Context{ID: "three", Type: injctx.ContextTypeProject, Content: "billing", RelevanceScore: 0.5})
		mustCreate(t, s, &injctx.Context{ID: "gone", Content: "billing ledger", RelevanceScore: 0.9, ExpiresAt: &past})
		mustCreate(t, s, &injctx.Context{ID: "off", Content: "billing ledger", RelevanceScore: 0.01})
		mustCreate(t, s, &injctx.Context{ID: "miss", Content: "unrelated", RelevanceScore: 1.0})
		if _, err := s.Prune(ctx, 0.05); err != nil {
			t.Fatalf("prune: %v", err)
		}

		got, err := s.FindRelevant(ctx, "Billing ledger billing", "", 0)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if want := []string{"one", "two", "three"}; !equalStrings(ids(got), want) {
			t.Errorf("expected %v, got %v", want, ids(got))
		}

		got, err = s.FindRelevant(ctx, "billing ledger", injctx.ContextTypeProject, 0)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if want := []string{"one", "three"}; !equalStrings(ids(got), want) {
			t.Errorf("expected %v, got %v", want, ids(got))
		}

		got, err = s.FindRelevant(ctx, "billing", "", 2)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected limit 2, got %d", len(got))
		}

		got, err = s.FindRelevant(ctx, "   ", "", 0)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty result for blank query, got %v", ids(got))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t, newFakeClock())

		mustCreate(t, s, &injctx.Context{ID: "p", Type: injctx.ContextTypeProject, RelevanceScore: 0.8})
		mustCreate(t, s, &injctx.Context{ID: "t", Type: injctx.ContextTypeTask, RelevanceScore: 0.1})
		mustRelate(t, s, "p", "t", "depends_on", 0.5)
		if _, err := s.Prune(ctx, 0.5); err != nil {
			t.Fatalf("prune: %v", err)
		}

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.ActiveCount != 1 || stats.InactiveCount != 1 {
			t.Errorf("expected 1 active 1 inactive, got %+v", stats)
		}
		if stats.RelationshipCount != 1 {
			t.Errorf("expected 1 relationship, got %d", stats.RelationshipCount)
		}
		if stats.Types[injctx.ContextTypeProject] != 1 {
			t.Errorf("expected project count 1, got %v", stats.Types)
		}
	})
}

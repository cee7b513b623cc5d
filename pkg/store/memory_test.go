package store

import (
	"context"
	"sync"
	"testing"

	injctx "github.com/easyops/contextinject-go/pkg/context"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *fakeClock) injctx.Store {
		return NewMemoryStore(WithClock(clock.Now))
	})
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("expected non-nil store")
	}
	if err := store.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	input := &injctx.Context{ID: "c1", Title: "original", Extensions: map[string]string{"k": "v"}}
	mustCreate(t, store, input)

	// 修改入参不影响存储
	input.Title = "mutated"
	input.Extensions["k"] = "changed"

	got := mustGet(t, store, "c1")
	if got.Title != "original" || got.Extensions["k"] != "v" {
		t.Errorf("expected stored copy unchanged, got %q %v", got.Title, got.Extensions)
	}

	// 修改返回值不影响存储
	got.Title = "mutated"
	again, _ := store.Get(ctx, "c1")
	if again.Title != "original" {
		t.Errorf("expected returned copy to be detached, got %q", again.Title)
	}
}

func TestMemoryStore_DanglingRelationship(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mustCreate(t, store, &injctx.Context{ID: "src"})
	mustRelate(t, store, "src", "ghost", "references", 0.5)

	related, err := store.GetRelated(ctx, "src", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(related) != 0 {
		t.Errorf("expected unresolved target to be skipped, got %d", len(related))
	}

	// 指向不存在目标的强化不报错
	if err := store.Reinforce(ctx, "src"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMemoryStore_WithIDGenerator(t *testing.T) {
	n := 0
	store := NewMemoryStore(WithIDGenerator(func() string {
		n++
		return "gen-" + string(rune('0'+n))
	}))

	id := mustCreate(t, store, &injctx.Context{Title: "a"})
	if id != "gen-1" {
		t.Errorf("expected gen-1, got %s", id)
	}
	id = mustCreate(t, store, &injctx.Context{ID: "explicit"})
	if id != "explicit" {
		t.Errorf("expected explicit id kept, got %s", id)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mustCreate(t, store, &injctx.Context{ID: "shared", Content: "shared content", RelevanceScore: 0.1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Reinforce(ctx, "shared")
			_, _ = store.FindRelevant(ctx, "shared", "", 5)
			_, _ = store.Stats(ctx)
		}()
	}
	wg.Wait()

	got := mustGet(t, store, "shared")
	if !approxEqual(got.RelevanceScore, 1.0) {
		t.Errorf("expected score capped at 1.0 after 20 reinforcements, got %f", got.RelevanceScore)
	}
}

func TestMemoryStore_PruneScenario(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mustCreate(t, store, &injctx.Context{ID: "s05", RelevanceScore: 0.05})
	mustCreate(t, store, &injctx.Context{ID: "s20", RelevanceScore: 0.2})
	mustCreate(t, store, &injctx.Context{ID: "s50", RelevanceScore: 0.5})

	pruned, err := store.Prune(ctx, 0.1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !equalStrings(pruned, []string{"s05"}) {
		t.Errorf("expected [s05], got %v", pruned)
	}

	pruned, err = store.Prune(ctx, 0.1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("expected empty second prune, got %v", pruned)
	}
}

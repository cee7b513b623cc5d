package context

import (
	"testing"
)

func TestSentenceTruncation(t *testing.T) {
	s := NewSentenceTruncation(wordCounter{})

	tests := []struct {
		name      string
		content   string
		maxTokens int
		want      string
		wantOK    bool
	}{
		{
			name:      "keeps whole sentences that fit",
			content:   "S1. S2. S3. S4. S5.",
			maxTokens: 3,
			want:      "S1. S2 [truncated]",
			wantOK:    true,
		},
		{
			name:      "single sentence budget",
			content:   "S1. S2. S3.",
			maxTokens: 2,
			want:      "S1 [truncated]",
			wantOK:    true,
		},
		{
			name:      "first sentence does not fit",
			content:   "one two three. four.",
			maxTokens: 2,
			wantOK:    false,
		},
		{
			name:      "nothing to cut",
			content:   "only one sentence here",
			maxTokens: 100,
			wantOK:    false,
		},
		{
			name:      "everything fits",
			content:   "a. b.",
			maxTokens: 100,
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Compress(tt.content, tt.maxTokens)
			if ok != tt.wantOK {
				t.Fatalf("Compress() ok = %v, want %v (got %q)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("Compress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentenceTruncation_NeverExceedsBudget(t *testing.T) {
	counter := wordCounter{}
	s := NewSentenceTruncation(counter)
	content := "alpha beta. gamma delta epsilon. zeta. eta theta iota kappa. lambda."

	for budget := 1; budget <= 20; budget++ {
		got, ok := s.Compress(content, budget)
		if ok && counter.Count(got) > budget {
			t.Errorf("budget %d: result %q has %d tokens", budget, got, counter.Count(got))
		}
	}
}

func TestSummaryExtraction(t *testing.T) {
	s := NewSummaryExtraction(wordCounter{})

	tests := []struct {
		name      string
		content   string
		maxTokens int
		want      string
		wantOK    bool
	}{
		{
			name:      "first middle last",
			content:   "S1. S2. S3. S4. S5.",
			maxTokens: 10,
			want:      "S1. S3. S5. [summarized]",
			wantOK:    true,
		},
		{
			name:      "even count picks upper middle",
			content:   "S1. S2. S3. S4",
			maxTokens: 10,
			want:      "S1. S3. S4 [summarized]",
			wantOK:    true,
		},
		{
			name:      "three sentences is not enough",
			content:   "S1. S2. S3.",
			maxTokens: 10,
			wantOK:    false,
		},
		{
			name:      "summary over budget",
			content:   "S1. S2. S3. S4. S5.",
			maxTokens: 3,
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Compress(tt.content, tt.maxTokens)
			if ok != tt.wantOK {
				t.Fatalf("Compress() ok = %v, want %v (got %q)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("Compress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyPointExtraction(t *testing.T) {
	s := NewKeyPointExtraction(wordCounter{})

	content := "A first. A second.\n\n  \n\nB first. B second.\n   \nC only"
	got, ok := s.Compress(content, 20)
	if !ok {
		t.Fatal("expected key points to fit")
	}
	want := "• A first\n• B first\n• C only [key points]"
	if got != want {
		t.Errorf("Compress() = %q, want %q", got, want)
	}

	if _, ok := s.Compress(content, 3); ok {
		t.Error("expected key points over budget to fail")
	}
	if _, ok := s.Compress("  \n\n  ", 100); ok {
		t.Error("expected blank content to fail")
	}
}

func TestCompressionChain_Order(t *testing.T) {
	chain := NewDefaultCompressionChain(wordCounter{})

	if len(chain.Strategies()) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(chain.Strategies()))
	}

	// 截断成功时不再尝试后续策略
	text, strategy, ok := chain.Compress("S1. S2. S3. S4. S5.", 3)
	if !ok || strategy != "sentence_truncation" || text != "S1. S2 [truncated]" {
		t.Errorf("got (%q, %q, %v)", text, strategy, ok)
	}

	// 全部句子都能放下时截断不给结果，摘要接手
	text, strategy, ok = chain.Compress("S1. S2. S3. S4", 10)
	if !ok || strategy != "summary_extraction" || text != "S1. S3. S4 [summarized]" {
		t.Errorf("expected summary_extraction, got (%q, %q, %v)", text, strategy, ok)
	}

	// 只有三句无法摘要，回落到要点
	paragraphs := "p1 x x x x x x x x. y.\n\np2 z z z z z z z z. w."
	text, strategy, ok = chain.Compress(paragraphs, 30)
	if !ok || strategy != "key_points" {
		t.Fatalf("expected key_points, got (%q, %q, %v)", text, strategy, ok)
	}
	if text != "• p1 x x x x x x x x\n• p2 z z z z z z z z [key points]" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestCompressionChain_KeyPointsFallback(t *testing.T) {
	chain := NewCompressionChain(NewSummaryExtraction(wordCounter{}), NewKeyPointExtraction(wordCounter{}))

	text, strategy, ok := chain.Compress("Alpha beta. Gamma.\n\nDelta. Epsilon.", 10)
	if !ok || strategy != "key_points" {
		t.Fatalf("expected key_points, got (%q, %q, %v)", text, strategy, ok)
	}
	if text != "• Alpha beta\n• Delta [key points]" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestCompressionChain_Failures(t *testing.T) {
	chain := NewDefaultCompressionChain(wordCounter{})

	if _, _, ok := chain.Compress("S1. S2. S3. S4. S5.", 0); ok {
		t.Error("expected non-positive budget to fail")
	}
	if _, _, ok := chain.Compress("S1. S2. S3. S4. S5.", 1); ok {
		t.Error("expected every strategy to fail with budget 1")
	}
	if _, _, ok := NewCompressionChain().Compress("text", 10); ok {
		t.Error("expected empty chain to fail")
	}
}

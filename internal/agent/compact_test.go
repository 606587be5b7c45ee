package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/providers"
	"github.com/lodestarhq/lodestar/internal/sessions"
)

func testCompactor(t *testing.T, cfg config.CompactionConfig, summary string) (*Compactor, *sessions.Store) {
	t.Helper()
	store := sessions.NewStore(t.TempDir())
	fake := &fakeProvider{script: []*providers.AssistantMessage{textReply(summary)}}
	return NewCompactor(fake, store, "fake-model", cfg), store
}

func userMsg(content string) providers.Message {
	return providers.Message{Role: providers.RoleUser, Content: content}
}

func TestShouldCompactThreshold(t *testing.T) {
	cfg := config.CompactionConfig{MaxTokens: 100, Threshold: 0.8, KeepRecentTokens: 10}
	c, _ := testCompactor(t, cfg, "")

	small := []providers.Message{userMsg("hi")}
	if c.ShouldCompact(small) {
		t.Error("small history should not compact")
	}

	big := []providers.Message{userMsg(strings.Repeat("x", 1000))}
	if !c.ShouldCompact(big) {
		t.Error("large history should compact")
	}
}

func TestCompactKeepsTailVerbatim(t *testing.T) {
	cfg := config.CompactionConfig{MaxTokens: 1000, Threshold: 0.8, KeepRecentTokens: 100}
	c, store := testCompactor(t, cfg, "the checkpoint")

	var msgs []providers.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, userMsg(strings.Repeat("m", 200)+"-"+string(rune('a'+i))))
	}

	out, err := c.Compact(context.Background(), "c1", msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) >= len(msgs) {
		t.Fatalf("not compacted: %d messages", len(out))
	}

	// Summary first, then the kept tail byte-for-byte in order.
	if !strings.Contains(out[0].Content, "<summary>") || !strings.Contains(out[0].Content, "the checkpoint") {
		t.Errorf("summary message = %q", out[0].Content)
	}
	tail := msgs[len(msgs)-(len(out)-1):]
	for i, m := range out[1:] {
		if m.Content != tail[i].Content {
			t.Errorf("kept message %d altered", i)
		}
	}

	// Persisted session rewritten to the compacted form.
	records, err := store.Load("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != len(out) {
		t.Errorf("session has %d records, want %d", len(records), len(out))
	}
	if !strings.Contains(records[0].Content, "<summary>") {
		t.Error("rewritten session does not start with summary")
	}
}

func TestCompactLeavesTinyHistoryAlone(t *testing.T) {
	cfg := config.CompactionConfig{MaxTokens: 1000, Threshold: 0.8, KeepRecentTokens: 100}
	c, store := testCompactor(t, cfg, "unused")

	msgs := []providers.Message{userMsg("only"), userMsg(strings.Repeat("x", 500))}
	out, err := c.Compact(context.Background(), "c1", msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(msgs) {
		t.Errorf("history with <=1 summarizable message must pass through")
	}
	if store.Exists("c1") {
		t.Error("session rewritten despite no-op compaction")
	}
}

func TestEstimateTokens(t *testing.T) {
	msg := userMsg(strings.Repeat("a", 100))
	got := EstimateTokens(msg)
	// ceil(serialized/4): at least the content share, plus JSON framing.
	if got < 25 || got > 40 {
		t.Errorf("EstimateTokens = %d", got)
	}
}

package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/providers"
)

func testPruner() *Pruner {
	return NewPruner(config.PruningConfig{
		KeepLastAssistantTurns: 3,
		HardClearThreshold:     50_000,
		SoftTrimMaxChars:       4000,
	})
}

func toolMsg(content string) providers.Message {
	return providers.Message{Role: providers.RoleTool, Content: content, ToolCallID: "tc", ToolName: "read"}
}

func TestPruneProtectsRecentTail(t *testing.T) {
	p := testPruner()
	msgs := []providers.Message{
		toolMsg(strings.Repeat("x", 10_000)),
	}
	for i := 0; i < 6; i++ {
		msgs = append(msgs, toolMsg(strings.Repeat("y", 10_000)))
	}

	p.Prune(msgs)

	// Only the one message before the protected window (last 6) is touched.
	if !strings.Contains(msgs[0].Content, "chars trimmed") {
		t.Error("old tool result not trimmed")
	}
	for i := 1; i < len(msgs); i++ {
		if len(msgs[i].Content) != 10_000 {
			t.Errorf("protected message %d modified", i)
		}
	}
}

func TestPruneSoftTrimShape(t *testing.T) {
	p := testPruner()
	msgs := make([]providers.Message, 0, 8)
	msgs = append(msgs, toolMsg(strings.Repeat("a", 5000)))
	for i := 0; i < 7; i++ {
		msgs = append(msgs, userMsg("filler"))
	}

	p.Prune(msgs)

	got := msgs[0].Content
	if !strings.HasPrefix(got, strings.Repeat("a", 1500)) || !strings.HasSuffix(got, strings.Repeat("a", 1500)) {
		t.Error("soft trim must keep head and tail of 1500 chars")
	}
	if !strings.Contains(got, "[2000 chars trimmed]") {
		t.Errorf("trim notice wrong: %q", got)
	}
}

func TestPruneSoftTrimRuneBoundaries(t *testing.T) {
	p := testPruner()
	// Every character is multi-byte, so both the 1500-byte head cut and the
	// 1500-byte tail cut land mid-rune unless backed off.
	big := strings.Repeat("é", 5000)
	msgs := []providers.Message{toolMsg(big)}
	for i := 0; i < 7; i++ {
		msgs = append(msgs, userMsg("filler"))
	}

	p.Prune(msgs)

	if !utf8.ValidString(msgs[0].Content) {
		t.Error("soft trim produced invalid UTF-8")
	}
	if !strings.Contains(msgs[0].Content, "chars trimmed") {
		t.Errorf("not trimmed: %q", msgs[0].Content[:40])
	}
}

func TestPruneHardClear(t *testing.T) {
	p := testPruner()
	msgs := make([]providers.Message, 0, 10)
	msgs = append(msgs,
		toolMsg(strings.Repeat("a", 30_000)),
		toolMsg(strings.Repeat("b", 30_000)),
		toolMsg("small"),
	)
	for i := 0; i < 7; i++ {
		msgs = append(msgs, userMsg("filler"))
	}

	p.Prune(msgs)

	// Combined old size crosses the hard threshold: everything cleared,
	// including results that would individually survive a soft trim.
	for i := 0; i < 3; i++ {
		if msgs[i].Content != clearedPlaceholder {
			t.Errorf("message %d = %q", i, msgs[i].Content[:40])
		}
	}
}

func TestPruneIdempotent(t *testing.T) {
	p := testPruner()
	build := func() []providers.Message {
		msgs := []providers.Message{
			toolMsg(strings.Repeat("a", 5000)),
			toolMsg("tiny"),
		}
		for i := 0; i < 7; i++ {
			msgs = append(msgs, userMsg("filler"))
		}
		return msgs
	}

	once := build()
	p.Prune(once)

	twice := build()
	p.Prune(twice)
	p.Prune(twice)

	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Errorf("message %d differs after second prune", i)
		}
	}
}

func TestPruneIgnoresNonToolMessages(t *testing.T) {
	p := testPruner()
	big := strings.Repeat("u", 10_000)
	msgs := []providers.Message{userMsg(big)}
	for i := 0; i < 7; i++ {
		msgs = append(msgs, userMsg("filler"))
	}

	p.Prune(msgs)

	if msgs[0].Content != big {
		t.Error("user message must never be pruned")
	}
}

package agent

import (
	"fmt"
	"unicode/utf8"

	"github.com/lodestarhq/lodestar/internal/config"
	"github.com/lodestarhq/lodestar/internal/providers"
)

const clearedPlaceholder = "[Tool result cleared — old context]"

// Pruner trims old tool-result text in the live message array. The persisted
// session is never touched; tool results are not persisted at all.
type Pruner struct {
	cfg config.PruningConfig
}

func NewPruner(cfg config.PruningConfig) *Pruner {
	return &Pruner{cfg: cfg}
}

// Prune mutates msgs in place. Only tool results older than the protected
// tail window are candidates. Two tiers: when the candidates' combined size
// crosses the hard threshold every candidate is cleared outright; otherwise
// oversized ones are trimmed to head and tail. Idempotent.
func (p *Pruner) Prune(msgs []providers.Message) {
	protect := 2 * p.cfg.KeepLastAssistantTurns
	if len(msgs) <= protect {
		return
	}
	cutoff := len(msgs) - protect

	var candidates []int
	total := 0
	for i := 0; i < cutoff; i++ {
		if msgs[i].Role == providers.RoleTool {
			candidates = append(candidates, i)
			total += len(msgs[i].Content)
		}
	}
	if len(candidates) == 0 {
		return
	}

	if total > p.cfg.HardClearThreshold {
		for _, i := range candidates {
			msgs[i].Content = clearedPlaceholder
		}
		return
	}

	for _, i := range candidates {
		if len(msgs[i].Content) > p.cfg.SoftTrimMaxChars {
			msgs[i].Content = softTrim(msgs[i].Content)
		}
	}
}

// softTrim keeps the head and tail of an oversized result and notes how much
// was dropped.
func softTrim(text string) string {
	const keep = 1500
	head := headBytes(text, keep)
	tail := tailBytes(text, keep)
	trimmed := len(text) - len(head) - len(tail)
	return fmt.Sprintf("%s\n\n... [%d chars trimmed] ...\n\n%s", head, trimmed, tail)
}

// headBytes cuts at most n bytes off the front, backing off to a rune
// boundary so a multi-byte character is never split.
func headBytes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes keeps at most n bytes off the end, advancing to a rune boundary.
func tailBytes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes the deterministic cache key for one LLM client call:
// the normalized query, the full rendered prompt (template plus
// prompt_kwargs plus tool declarations plus output-format string), and the
// sorted tool-name set. Including the rendered prompt rather than just the
// query is the conservative reading of the cache-key open question: two
// calls with the same query but different prompt_kwargs must not collide.
func Fingerprint(query, renderedPrompt string, toolNames []string, schemaID string) string {
	sorted := append([]string(nil), toolNames...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(query)))
	h.Write([]byte{0})
	h.Write([]byte(renderedPrompt))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(schemaID))
	return hex.EncodeToString(h.Sum(nil))
}

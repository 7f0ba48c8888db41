// Package query compiles a raw user query string into an FTS5 MATCH
// expression plus a list of post-filter phrases for indexes that do not
// record token positions.
//
// Grounded on the token-escaping and query-building style of the retrieved
// zhimaAi-ChatClaw internal/fts/tokenizer package's BuildMatchQuery /
// escapeFTS5Token, generalized from single-token prefix matching to a
// quoted-phrase-vs-bare-piece grammar.
package query

import (
	"regexp"
	"strings"

	"ttts/storage/pools"
	"ttts/tokenizer"
)

// piecePattern splits a raw query into quoted phrases and bare words:
// a double-quoted run, or a run of non-space characters.
var piecePattern = regexp.MustCompile(`"([^"]+)"|(\S+)`)

// Compiled is the result of compiling a raw query: the FTS5 MATCH
// expression to execute, and any phrases that must additionally be
// verified by post-filtering the candidate documents' stored tokens.
type Compiled struct {
	FtsQuery         string
	FilteringPhrases [][]string
}

// Compile tokenizes raw into pieces and builds the MATCH expression.
// maxTokens bounds tokens considered per piece;
// supportPhrase indicates the target index records positions (native FTS5
// phrase queries are available) as opposed to being positionless (handled
// via AND plus a post-filter phrase check).
func Compile(raw, locale string, maxTokens int, supportPhrase bool) Compiled {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Compiled{}
	}

	tk, err := tokenizer.Get()
	if err != nil {
		return Compiled{}
	}

	matches := piecePattern.FindAllStringSubmatch(raw, -1)
	clausesPtr := pools.GetStringSlice()
	clauses := *clausesPtr
	defer func() {
		*clausesPtr = clauses
		pools.PutStringSlice(clausesPtr)
	}()
	var filteringPhrases [][]string

	for _, m := range matches {
		quoted := m[1]
		bare := m[2]

		if quoted != "" {
			tokens := limitTokens(tk.Tokenize(quoted, locale), maxTokens)
			if len(tokens) == 0 {
				continue
			}
			if supportPhrase {
				clauses = append(clauses, quotePhrase(tokens))
			} else {
				clauses = append(clauses, andJoin(tokens))
				if len(tokens) >= 2 {
					filteringPhrases = append(filteringPhrases, tokens)
				}
			}
			continue
		}

		tokens := limitTokens(tk.Tokenize(bare, locale), maxTokens)
		if len(tokens) == 0 {
			continue
		}
		if supportPhrase {
			clauses = append(clauses, quotePhrase(tokens))
		} else {
			clauses = append(clauses, andJoin(tokens))
		}
	}

	if len(clauses) == 0 {
		return Compiled{}
	}

	return Compiled{
		FtsQuery:         strings.Join(clauses, " AND "),
		FilteringPhrases: filteringPhrases,
	}
}

func limitTokens(tokens []string, maxTokens int) []string {
	if maxTokens > 0 && len(tokens) > maxTokens {
		return tokens[:maxTokens]
	}
	return tokens
}

// andJoin emits "(t1 AND t2 AND ... AND tk)", or the bare token when there
// is only one. Tokens come
// from the tokenizer, which already strips punctuation and FTS5 operator
// characters, so terms need no further escaping here.
func andJoin(tokens []string) string {
	if len(tokens) == 1 {
		return tokens[0]
	}
	sb := pools.GetStringBuilder()
	defer pools.PutStringBuilder(sb)

	sb.WriteByte('(')
	for i, t := range tokens {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(t)
	}
	sb.WriteByte(')')
	return sb.String()
}

// quotePhrase emits a literal FTS5 phrase query "t1 t2 ... tk".
func quotePhrase(tokens []string) string {
	sb := pools.GetStringBuilder()
	defer pools.PutStringBuilder(sb)

	sb.WriteByte('"')
	sb.WriteString(strings.Join(tokens, " "))
	sb.WriteByte('"')
	return sb.String()
}

// MatchesPostFilter reports whether every phrase in phrases appears as an
// in-order contiguous subsequence of tokens, implementing the pseudo-phrase
// check used to verify phrase matches for positionless indexes.
func MatchesPostFilter(tokens []string, phrases [][]string) bool {
	for _, phrase := range phrases {
		if !containsSubsequence(tokens, phrase) {
			return false
		}
	}
	return true
}

func containsSubsequence(tokens, phrase []string) bool {
	if len(phrase) == 0 {
		return true
	}
	if len(phrase) > len(tokens) {
		return false
	}
	for start := 0; start+len(phrase) <= len(tokens); start++ {
		match := true
		for i, p := range phrase {
			if tokens[start+i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Package ranker is the public entry point of amanrank. It builds the
// embedder, index client and cross-encoder once and answers queries with a
// short list of passages to ground an answer generator.
//
// # Pipeline
//
//	query ─► normalize ─► embed ─► hybrid kNN + match + phrase ─┐
//	                                  │ (error)                   │
//	                                  └─► kNN only ──────────────┤
//	                                                              ▼
//	      passages ◄─ top K ◄─ 0.7·cross + 0.3·keyword ◄─ keyword pool
//
// Transient failures never surface as errors: a failing index degrades to
// kNN-only retrieval and then to no results, and a failing cross-encoder
// degrades to keyword-only ranking. Configuration problems (no embedding
// model, an index built with another model) are fatal at [New].
//
// # Usage
//
//	cfg, _ := config.Load(".")
//	r, err := ranker.New(ctx, cfg)
//	if err != nil {
//	    return err // fatal configuration error
//	}
//	defer r.Close()
//
//	passages, err := r.Rank(ctx, "Ông Trần Bá Dương sinh năm nào?", 10)
//	if len(passages) == 0 {
//	    fmt.Println(ranker.NoResultsMessage)
//	}
//	prompt := r.Context(passages)
//
// # Thread Safety
//
// A Ranker is safe for concurrent use.
package ranker

package pagination

import "strconv"

// Pageable is implemented by rows that can anchor a continuation token.
// PageKey returns the composite ordering key: the row's ordering timestamp
// in epoch seconds and its surrogate id.
type Pageable interface {
	PageKey() (timestamp int64, id int64)
}

// Page is one slice of a filtered listing.
type Page[T Pageable] struct {
	Entities []T
	Token    *ContinuationToken
	HasNext  bool
}

// NewPage builds a page from a query that fetched limit+1 rows. When the
// extra row came back, HasNext is set and the extra row is dropped; the
// token is built from the last *returned* row so the next page starts
// strictly after it. An empty result keeps the previous token unchanged.
func NewPage[T Pageable](entities []T, previous *ContinuationToken, keyParams map[string]string, limit int) Page[T] {
	hasNext := len(entities) > limit
	if hasNext {
		entities = entities[:limit]
	}
	token := previous
	if len(entities) > 0 {
		token = NewToken(entities, keyParams)
	}
	return Page[T]{
		Entities: entities,
		Token:    token,
		HasNext:  hasNext,
	}
}

// NewToken builds a continuation token from the last entity of a non-empty
// page, carrying the original filter's key params forward.
func NewToken[T Pageable](entities []T, keyParams map[string]string) *ContinuationToken {
	ts, id := entities[len(entities)-1].PageKey()
	return &ContinuationToken{
		KeyParams: keyParams,
		Timestamp: ts,
		ID:        strconv.FormatInt(id, 10),
	}
}

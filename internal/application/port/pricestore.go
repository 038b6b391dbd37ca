package port

import "github.com/stevesarmiento/maximus/internal/domain"

// PriceStore is the shared in-memory price cache. All operations are pure
// in-memory and safe for concurrent use; Get never touches the network and
// absence means "not yet observed", not an error.
type PriceStore interface {
	Set(key string, p domain.PricePoint)
	Get(key string) (domain.PricePoint, bool)
	GetAll() map[string]domain.PricePoint
	Remove(key string)
	Clear()
}

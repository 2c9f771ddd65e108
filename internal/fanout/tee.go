package fanout

import (
	"context"
	"errors"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

// Tee hands every envelope to each publisher in order. One failing sink does
// not stop the others; their errors are joined.
type Tee []orders.Publisher

func (t Tee) Publish(ctx context.Context, ev orders.Envelope) error {
	var errs []error
	for _, p := range t {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package event

import (
	"context"

	"go.uber.org/zap"
)

// Projector routes decoded changes to their handlers. Handlers run in
// registration order; a change may be accepted by more than one handler.
type Projector struct {
	handlers []ChangeHandler
	logger   *zap.Logger
}

// NewProjector creates a projector with the given handlers, in order.
func NewProjector(logger *zap.Logger, handlers ...ChangeHandler) *Projector {
	return &Projector{handlers: handlers, logger: logger}
}

// NewPartyProjector wires the standard party lifecycle handlers.
func NewPartyProjector(logger *zap.Logger) *Projector {
	return NewProjector(logger,
		NewPartyCreateHandler(logger),
		NewPartyBlockingHandler(logger),
		NewPartySuspensionHandler(logger),
	)
}

// ProjectBatch applies every event of a batch in original order against the
// given (transaction-scoped) party store. Any error aborts the remainder of
// the batch; the caller owns the transaction and the ack decision.
func (p *Projector) ProjectBatch(ctx context.Context, parties PartyStore, batch []Envelope) error {
	for _, envelope := range batch {
		if err := p.projectEvent(ctx, parties, envelope); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) projectEvent(ctx context.Context, parties PartyStore, envelope Envelope) error {
	data, err := DecodeEventData(envelope)
	if err != nil {
		return err
	}
	p.logger.Debug("projecting event",
		zap.Int64("event_id", envelope.EventID),
		zap.String("source_id", envelope.SourceID),
		zap.Int("changes", len(data.Changes)),
	)
	for _, change := range data.Changes {
		for _, handler := range p.handlers {
			if !handler.Accepts(change) {
				continue
			}
			if err := handler.Handle(ctx, parties, change, envelope); err != nil {
				return err
			}
		}
	}
	return nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	"github.com/sitestock/stock-ledger/internal/infrastructure/projections"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	"github.com/sitestock/stock-ledger/pkg/tracing"
)

// Stores bundles the ports of one storage backend
type Stores struct {
	Transactor domain.Transactor
	Ledger     domain.LedgerStore
	Items      domain.StockItemRepository
	Transfers  domain.TransferRepository
	Usage      domain.UsageRepository
	StockView  projections.LocationStockRepository
}

// Options tune business rules that differ between deployments
type Options struct {
	// RequireDistinctApprover rejects approvals by the transfer's requester
	RequireDistinctApprover bool
}

// DefaultOptions enables separation of duties
func DefaultOptions() Options {
	return Options{RequireDistinctApprover: true}
}

// StockService handles every balance-changing use case and the read side of the ledger.
// Writes to one stock key are serialized by the guard and committed in one transaction
// together with their outbox events.
type StockService struct {
	tx        domain.Transactor
	ledger    domain.LedgerStore
	items     domain.StockItemRepository
	transfers domain.TransferRepository
	usage     domain.UsageRepository
	stockView projections.LocationStockRepository
	recorder  domain.EventRecorder
	guard     guard.Guard
	projector *projections.StockProjector
	metrics   *metrics.Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
	opts      Options
}

// NewStockService creates a new StockService. m may be nil.
func NewStockService(
	stores Stores,
	g guard.Guard,
	recorder domain.EventRecorder,
	m *metrics.Metrics,
	logger *logging.Logger,
	opts Options,
) *StockService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &StockService{
		tx:        stores.Transactor,
		ledger:    stores.Ledger,
		items:     stores.Items,
		transfers: stores.Transfers,
		usage:     stores.Usage,
		stockView: stores.StockView,
		recorder:  recorder,
		guard:     g,
		projector: projections.NewStockProjector(stores.StockView, stores.Items, logger),
		metrics:   m,
		logger:    logger.WithComponent("stock-service"),
		tracer:    tracing.Tracer("stock-service"),
		opts:      opts,
	}
}

// AddStock records a direct credit at any location
func (s *StockService) AddStock(ctx context.Context, cmd AddStockCommand) (*CreditResultDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.AddStock", func(ctx context.Context) (*CreditResultDTO, error) {
		req, err := parseCredit(cmd.Name, cmd.Location, cmd.Quantity, cmd.Unit, cmd.Category, cmd.ActorID)
		if err != nil {
			return nil, toAppError(err)
		}
		req.kind = domain.EntryDirectCredit
		req.relatedID = domain.NewRelatedID("ADD")
		return s.credit(ctx, "add_stock", req)
	})
}

// CreditFromPurchase credits a verified purchase once per purchase id
func (s *StockService) CreditFromPurchase(ctx context.Context, cmd CreditReplenishmentCommand) (*CreditResultDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.CreditFromPurchase", func(ctx context.Context) (*CreditResultDTO, error) {
		return s.creditReplenishment(ctx, "credit_purchase", domain.EntryPurchaseCredit, cmd)
	})
}

// CreditFromRental credits a verified machinery rental once per rental id
func (s *StockService) CreditFromRental(ctx context.Context, cmd CreditReplenishmentCommand) (*CreditResultDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.CreditFromRental", func(ctx context.Context) (*CreditResultDTO, error) {
		return s.creditReplenishment(ctx, "credit_rental", domain.EntryRentalCredit, cmd)
	})
}

func (s *StockService) creditReplenishment(ctx context.Context, op string, kind domain.EntryKind, cmd CreditReplenishmentCommand) (*CreditResultDTO, error) {
	sourceID := strings.TrimSpace(cmd.SourceID)
	if sourceID == "" {
		return nil, toAppError(fmt.Errorf("%w: source id is required", domain.ErrValidation))
	}
	req, err := parseCredit(cmd.Name, cmd.Location, cmd.Quantity, cmd.Unit, cmd.Category, cmd.ActorID)
	if err != nil {
		return nil, toAppError(err)
	}
	req.kind = kind
	req.relatedID = sourceID

	// fast path for redeliveries; the ledger's unique credit index is the real guarantee
	if prior, err := s.alreadyCredited(ctx, req); err != nil || prior != nil {
		return prior, toAppError(err)
	}
	return s.credit(ctx, op, req)
}

type creditRequest struct {
	key       domain.StockKey
	quantity  int64
	unit      domain.Unit
	category  domain.Category
	kind      domain.EntryKind
	relatedID string
	actorID   string
}

func parseCredit(name, location string, quantity int64, unit, category, actorID string) (*creditRequest, error) {
	loc, err := domain.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	key, err := domain.NewStockKey(name, loc)
	if err != nil {
		return nil, err
	}
	u, err := domain.ParseUnit(unit)
	if err != nil {
		return nil, err
	}
	c, err := domain.ParseCategory(category)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, quantity)
	}
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	return &creditRequest{key: key, quantity: quantity, unit: u, category: c, actorID: actorID}, nil
}

func (s *StockService) credit(ctx context.Context, op string, req *creditRequest) (*CreditResultDTO, error) {
	trace.SpanFromContext(ctx).SetAttributes(tracing.StockKeySpanAttributes(req.key.Name, req.key.Location.String())...)

	release, err := s.guard.Acquire(ctx, req.key.String())
	if err != nil {
		return nil, toAppError(err)
	}
	defer release()

	var (
		item  *domain.StockItem
		entry *domain.LedgerEntry
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		candidate, err := domain.NewStockItem(req.key, req.unit, req.category, req.actorID)
		if err != nil {
			return err
		}
		stored, created, err := s.items.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return err
		}
		if !created {
			if err := stored.CheckUnit(req.unit); err != nil {
				return err
			}
		}
		item = stored

		entry, err = domain.NewLedgerEntry(req.key, req.kind, req.quantity, req.relatedID, req.actorID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Append(ctx, entry); err != nil {
			return err
		}

		return s.recorder.Record(ctx, &domain.StockCreditedEvent{
			EntryID:    entry.ID,
			Name:       req.key.Name,
			Location:   req.key.Location.String(),
			Kind:       req.kind,
			Quantity:   req.quantity,
			Balance:    entry.BalanceAfter,
			RelatedID:  req.relatedID,
			ActorID:    req.actorID,
			CreditedAt: entry.Timestamp,
		})
	})
	if errors.Is(err, domain.ErrAlreadyCredited) {
		// lost a race with another replica crediting the same source
		if prior, lookupErr := s.alreadyCredited(ctx, req); lookupErr != nil || prior != nil {
			return prior, toAppError(lookupErr)
		}
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Credit failed", "operation", op, "key", req.key.String())
		return nil, toAppError(err)
	}

	s.afterCommit(ctx, entry)
	s.logger.Audit(ctx, op, "stock", req.key.String(), req.actorID, map[string]any{
		"kind":      string(req.kind),
		"quantity":  req.quantity,
		"balance":   entry.BalanceAfter,
		"relatedId": req.relatedID,
	})

	return &CreditResultDTO{
		Item:    ToStockItemDTO(item),
		Entry:   ToLedgerEntryDTO(entry),
		Balance: entry.BalanceAfter,
	}, nil
}

// alreadyCredited returns the earlier result when the source has been credited before
func (s *StockService) alreadyCredited(ctx context.Context, req *creditRequest) (*CreditResultDTO, error) {
	prior, err := s.ledger.FindCredit(ctx, req.relatedID, req.kind)
	if err != nil || prior == nil {
		return nil, err
	}
	item, err := s.items.FindByKey(ctx, prior.Key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("stock item %s missing for credit %s", prior.Key, prior.ID)
	}

	s.metrics.RecordDuplicateCredit(string(req.kind))
	s.logger.WithContext(ctx).Info("Source already credited",
		"relatedId", req.relatedID,
		"kind", string(req.kind),
		"entryId", prior.ID,
	)

	return &CreditResultDTO{
		Item:            ToStockItemDTO(item),
		Entry:           ToLedgerEntryDTO(prior),
		Balance:         prior.BalanceAfter,
		AlreadyCredited: true,
	}, nil
}

// LogUsage debits stock consumed on a site
func (s *StockService) LogUsage(ctx context.Context, cmd LogUsageCommand) (*UsageResultDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.LogUsage", func(ctx context.Context) (*UsageResultDTO, error) {
		loc, err := domain.ParseLocation(cmd.Location)
		if err != nil {
			return nil, toAppError(err)
		}
		key, err := domain.NewStockKey(cmd.Name, loc)
		if err != nil {
			return nil, toAppError(err)
		}
		usage, err := domain.NewUsageEntry(key, cmd.Quantity, cmd.ActorID, cmd.Note)
		if err != nil {
			return nil, toAppError(err)
		}
		trace.SpanFromContext(ctx).SetAttributes(tracing.StockKeySpanAttributes(key.Name, key.Location.String())...)

		release, err := s.guard.Acquire(ctx, key.String())
		if err != nil {
			return nil, toAppError(err)
		}
		defer release()

		var entry *domain.LedgerEntry
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			entry, err = domain.NewLedgerEntry(key, domain.EntryUsageDebit, usage.Quantity, usage.ID, usage.LoggedBy)
			if err != nil {
				return err
			}
			if _, err := s.ledger.Append(ctx, entry); err != nil {
				return err
			}
			if err := s.usage.Save(ctx, usage); err != nil {
				return err
			}
			return s.recorder.Record(ctx, &domain.StockUsedEvent{
				UsageID:  usage.ID,
				EntryID:  entry.ID,
				Name:     key.Name,
				Location: key.Location.String(),
				Quantity: usage.Quantity,
				Balance:  entry.BalanceAfter,
				LoggedBy: usage.LoggedBy,
				UsedAt:   usage.Timestamp,
			})
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				s.metrics.RecordInsufficientStock("log_usage")
			}
			s.logger.WithContext(ctx).WithError(err).Warn("Usage refused", "key", key.String(), "quantity", cmd.Quantity)
			return nil, toAppError(err)
		}

		s.afterCommit(ctx, entry)
		s.logger.Audit(ctx, "log_usage", "stock", key.String(), usage.LoggedBy, map[string]any{
			"quantity": usage.Quantity,
			"balance":  entry.BalanceAfter,
			"usageId":  usage.ID,
		})

		return &UsageResultDTO{Usage: ToUsageEntryDTO(usage), Balance: entry.BalanceAfter}, nil
	})
}

// RequestTransfer opens a transfer. The source balance is only checked on approval.
func (s *StockService) RequestTransfer(ctx context.Context, cmd RequestTransferCommand) (*TransferDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.RequestTransfer", func(ctx context.Context) (*TransferDTO, error) {
		from, err := domain.ParseLocation(cmd.From)
		if err != nil {
			return nil, toAppError(err)
		}
		to, err := domain.ParseLocation(cmd.To)
		if err != nil {
			return nil, toAppError(err)
		}
		transfer, err := domain.NewTransferRequest(cmd.Name, cmd.Quantity, from, to, cmd.ActorID, cmd.Note)
		if err != nil {
			return nil, toAppError(err)
		}

		// pulled once: the transaction body may be retried
		pending := transfer.PullEvents()
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := s.transfers.Save(ctx, transfer); err != nil {
				return err
			}
			return s.recorder.Record(ctx, pending...)
		})
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to save transfer", "transferId", transfer.ID)
			return nil, toAppError(err)
		}

		s.metrics.RecordTransferDecision("requested")
		s.logger.Audit(ctx, "request_transfer", "transfer", transfer.ID, cmd.ActorID, map[string]any{
			"name":     transfer.Name,
			"from":     transfer.From.String(),
			"to":       transfer.To.String(),
			"quantity": transfer.Quantity,
		})

		dto := ToTransferDTO(transfer)
		return &dto, nil
	})
}

// ApproveTransfer re-checks the source balance under the guard and moves the stock.
// Both entries, the status change and the event commit together or not at all.
func (s *StockService) ApproveTransfer(ctx context.Context, cmd DecideTransferCommand) (*TransferDecisionDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.ApproveTransfer", func(ctx context.Context) (*TransferDecisionDTO, error) {
		transfer, err := s.findTransfer(ctx, cmd.TransferID)
		if err != nil {
			return nil, err
		}
		source, dest := transfer.SourceKey(), transfer.DestinationKey()
		trace.SpanFromContext(ctx).SetAttributes(tracing.TransferSpanAttributes(transfer.ID, transfer.From.String(), transfer.To.String())...)

		release, err := s.guard.Acquire(ctx, source.String(), dest.String(), transferLockKey(transfer.ID))
		if err != nil {
			return nil, toAppError(err)
		}
		defer release()

		var out, in *domain.LedgerEntry
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			// reload: the transfer may have been decided while we waited for the guard
			current, err := s.transfers.FindByID(ctx, transfer.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return notFound("transfer", transfer.ID)
			}
			transfer = current

			if err := transfer.CanDecide("approve"); err != nil {
				return err
			}
			if s.opts.RequireDistinctApprover {
				if err := transfer.CheckDecider(cmd.ActorID); err != nil {
					return err
				}
			}

			available, err := s.ledger.CurrentBalance(ctx, source)
			if err != nil {
				return err
			}
			if available < transfer.Quantity {
				return &domain.InsufficientStockError{Key: source, Available: available, Requested: transfer.Quantity}
			}

			sourceItem, err := s.items.FindByKey(ctx, source)
			if err != nil {
				return err
			}
			if sourceItem == nil {
				return fmt.Errorf("stock item %s missing with balance %d", source, available)
			}
			candidate, err := domain.NewStockItem(dest, sourceItem.Unit, sourceItem.Category, cmd.ActorID)
			if err != nil {
				return err
			}
			destItem, created, err := s.items.CreateIfAbsent(ctx, candidate)
			if err != nil {
				return err
			}
			if !created {
				if err := destItem.CheckUnit(sourceItem.Unit); err != nil {
					return err
				}
			}

			if out, err = domain.NewLedgerEntry(source, domain.EntryTransferOut, transfer.Quantity, transfer.ID, cmd.ActorID); err != nil {
				return err
			}
			if in, err = domain.NewLedgerEntry(dest, domain.EntryTransferIn, transfer.Quantity, transfer.ID, cmd.ActorID); err != nil {
				return err
			}
			balances, err := s.ledger.AppendBatch(ctx, []*domain.LedgerEntry{out, in})
			if err != nil {
				return err
			}

			if err := transfer.Approve(cmd.ActorID, balances[0], balances[1]); err != nil {
				return err
			}
			if err := s.transfers.Save(ctx, transfer); err != nil {
				return err
			}
			return s.recorder.Record(ctx, transfer.PullEvents()...)
		})
		if err != nil {
			s.recordDecisionFailure("approve_transfer", err)
			s.logger.WithContext(ctx).WithError(err).Warn("Transfer approval refused", "transferId", cmd.TransferID, "actorId", cmd.ActorID)
			return nil, toAppError(err)
		}

		s.afterCommit(ctx, out, in)
		s.metrics.RecordTransferDecision("approved")
		s.logger.Audit(ctx, "approve_transfer", "transfer", transfer.ID, cmd.ActorID, map[string]any{
			"name":        transfer.Name,
			"from":        transfer.From.String(),
			"to":          transfer.To.String(),
			"quantity":    transfer.Quantity,
			"fromBalance": out.BalanceAfter,
			"toBalance":   in.BalanceAfter,
		})

		return &TransferDecisionDTO{
			Transfer:    ToTransferDTO(transfer),
			FromBalance: out.BalanceAfter,
			ToBalance:   in.BalanceAfter,
		}, nil
	})
}

// RejectTransfer closes a transfer without touching the ledger
func (s *StockService) RejectTransfer(ctx context.Context, cmd DecideTransferCommand) (*TransferDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.RejectTransfer", func(ctx context.Context) (*TransferDTO, error) {
		if _, err := s.findTransfer(ctx, cmd.TransferID); err != nil {
			return nil, err
		}

		release, err := s.guard.Acquire(ctx, transferLockKey(cmd.TransferID))
		if err != nil {
			return nil, toAppError(err)
		}
		defer release()

		var transfer *domain.TransferRequest
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			transfer, err = s.transfers.FindByID(ctx, cmd.TransferID)
			if err != nil {
				return err
			}
			if transfer == nil {
				return notFound("transfer", cmd.TransferID)
			}
			if err := transfer.Reject(cmd.ActorID, strings.TrimSpace(cmd.Reason)); err != nil {
				return err
			}
			if err := s.transfers.Save(ctx, transfer); err != nil {
				return err
			}
			return s.recorder.Record(ctx, transfer.PullEvents()...)
		})
		if err != nil {
			s.recordDecisionFailure("reject_transfer", err)
			s.logger.WithContext(ctx).WithError(err).Warn("Transfer rejection refused", "transferId", cmd.TransferID, "actorId", cmd.ActorID)
			return nil, toAppError(err)
		}

		s.metrics.RecordTransferDecision("rejected")
		s.logger.Audit(ctx, "reject_transfer", "transfer", transfer.ID, cmd.ActorID, map[string]any{
			"reason": transfer.RejectionReason,
		})

		dto := ToTransferDTO(transfer)
		return &dto, nil
	})
}

func (s *StockService) findTransfer(ctx context.Context, id string) (*domain.TransferRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, toAppError(fmt.Errorf("%w: transfer id is required", domain.ErrValidation))
	}
	transfer, err := s.transfers.FindByID(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to get transfer", "transferId", id)
		return nil, toAppError(err)
	}
	if transfer == nil {
		return nil, notFound("transfer", id)
	}
	return transfer, nil
}

func (s *StockService) recordDecisionFailure(op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		s.metrics.RecordInsufficientStock(op)
		s.metrics.RecordTransferDecision("insufficient_stock")
	case errors.Is(err, domain.ErrInvalidTransition):
		s.metrics.RecordTransferDecision("invalid_transition")
	}
}

// afterCommit updates the read model. The ledger is already committed, so a
// projection failure is logged and left for Rebuild.
func (s *StockService) afterCommit(ctx context.Context, entries ...*domain.LedgerEntry) {
	for _, e := range entries {
		s.metrics.RecordLedgerAppend(string(e.Kind), e.Quantity())
	}
	if err := s.projector.OnEntriesCommitted(ctx, entries...); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Location stock projection is stale")
	}
}

func transferLockKey(id string) string {
	return "transfer:" + id
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/transferengine/internal/adapter/http/dto"
	"github.com/iho/transferengine/internal/domain"
	"github.com/iho/transferengine/internal/usecase"
)

// IdempotencyKeyHeader carries the client's idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// OutcomeIndeterminate marks a transfer whose ledger commit is unconfirmed.
const OutcomeIndeterminate = "indeterminate"

// TransferService defines the behavior needed by TransferHandler.
type TransferService interface {
	SubmitTransfer(ctx context.Context, input usecase.SubmitTransferInput) (*usecase.TransferResult, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	ListTransfersByAccount(ctx context.Context, input usecase.ListTransfersByAccountInput) ([]*domain.Transfer, error)
	ResolveHold(ctx context.Context, input usecase.ResolveHoldInput) (*domain.Transfer, error)
}

// TransferHandler handles transfer-related HTTP requests.
type TransferHandler struct {
	transferUC TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transferUC TransferService) *TransferHandler {
	return &TransferHandler{transferUC: transferUC}
}

// Create submits a transfer. A new transfer answers 201 with its state
// (SETTLED, HELD or REJECTED); a replayed key answers 200 with the
// existing transfer; an unconfirmed commit answers 202.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	input, err := req.ToUseCaseInput(r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		writeDomainError(w, "invalid amount", err)
		return
	}

	result, err := h.transferUC.SubmitTransfer(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrTransferIndeterminate) && result != nil && result.Transfer != nil {
			resp := dto.TransferFromDomain(result.Transfer)
			resp.Outcome = OutcomeIndeterminate
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		writeDomainError(w, "failed to submit transfer", err)
		return
	}

	resp := dto.TransferFromDomain(result.Transfer)
	status := http.StatusCreated
	if result.Replayed {
		resp.Replayed = true
		status = http.StatusOK
	}

	writeJSON(w, status, resp)
}

// Get retrieves a transfer by ID.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transfer ID", "")
		return
	}

	transfer, err := h.transferUC.GetTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, "failed to get transfer", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferFromDomain(transfer))
}

// Resolve applies a reviewer decision to a held transfer. The reviewer is
// the authenticated subject.
func (h *TransferHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transfer ID", "")
		return
	}

	subject, ok := domain.SubjectFromContext(r.Context())
	if !ok {
		writeDomainError(w, "failed to resolve transfer", domain.ErrUnauthorized)
		return
	}

	var req dto.ResolveHoldRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	transfer, err := h.transferUC.ResolveHold(r.Context(), req.ToUseCaseInput(id, subject.ID))
	if err != nil {
		if errors.Is(err, domain.ErrTransferIndeterminate) && transfer != nil {
			resp := dto.TransferFromDomain(transfer)
			resp.Outcome = OutcomeIndeterminate
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		writeDomainError(w, "failed to resolve transfer", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferFromDomain(transfer))
}

// ListByAccount lists transfers for an account.
func (h *TransferHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account ID", "")
		return
	}

	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	transfers, err := h.transferUC.ListTransfersByAccount(r.Context(), usecase.ListTransfersByAccountInput{
		AccountID: accountID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeDomainError(w, "failed to list transfers", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransfersFromDomain(transfers))
}

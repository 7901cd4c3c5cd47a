package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/shared"
)

// CreateSupplierRequest files a pending request to onboard a supplier.
func (s *Service) CreateSupplierRequest(ctx context.Context, input SupplierInput) (SupplierRequest, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Contact = strings.TrimSpace(input.Contact)
	input.Address = strings.TrimSpace(input.Address)
	if input.TenantID <= 0 {
		return SupplierRequest{}, shared.Validationf("tenant required")
	}
	if input.Name == "" || input.Contact == "" {
		return SupplierRequest{}, shared.Validationf("name and contact required")
	}

	var created SupplierRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertSupplierRequest(ctx, SupplierRequest{
			TenantID:  input.TenantID,
			Name:      input.Name,
			Contact:   input.Contact,
			Address:   input.Address,
			Status:    RequestPending,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return SupplierRequest{}, fmt.Errorf("catalog: create supplier request: %w", err)
	}
	s.publishRequest(ctx, SupplierRequestChanged{Action: ActionRequestCreated, After: created})
	return created, nil
}

// DecideSupplierRequest approves or rejects a pending request.
func (s *Service) DecideSupplierRequest(ctx context.Context, requestID int64, status RequestStatus) (SupplierRequest, error) {
	if requestID <= 0 {
		return SupplierRequest{}, shared.Validationf("invalid request id")
	}
	if !status.Decision() {
		return SupplierRequest{}, shared.Validationf("status must be %q or %q, got %q", RequestApproved, RequestRejected, status)
	}

	var changed SupplierRequestChanged
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.SupplierRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return fmt.Errorf("%w: supplier request %d already %s", shared.ErrAlreadyExists, requestID, req.Status)
		}
		before := req
		now := s.now()
		req.Status = status
		req.DecidedAt = &now
		updated, err := tx.UpdateSupplierRequest(ctx, req)
		if err != nil {
			return err
		}
		action := ActionRequestApproved
		if status == RequestRejected {
			action = ActionRequestRejected
		}
		changed = SupplierRequestChanged{Action: action, Before: &before, After: updated}
		return nil
	})
	if err != nil {
		return SupplierRequest{}, fmt.Errorf("catalog: decide supplier request: %w", err)
	}
	s.publishRequest(ctx, changed)
	return changed.After, nil
}

// ListSupplierRequests returns requests across tenants, filtered by status when set.
func (s *Service) ListSupplierRequests(ctx context.Context, status RequestStatus) ([]SupplierRequest, error) {
	if status != "" && status != RequestPending && !status.Decision() {
		return nil, shared.Validationf("unknown status %q", status)
	}
	requests, err := s.repo.ListSupplierRequests(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("catalog: list supplier requests: %w", err)
	}
	return requests, nil
}

// Requests are not part of any cached view, so no cache-dirty event is sent.
func (s *Service) publishRequest(ctx context.Context, changed SupplierRequestChanged) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.New(events.TypeSupplierRequest, changed.After.TenantID, changed))
}

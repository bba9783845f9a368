package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
)

// CommitSession writes the product and its target to the record store.
//
// Each attempt creates the product, then the target bound to it. When the
// target write fails the product is deleted before the next attempt; a
// product that cannot be deleted is reported in OrphanedProductIDs. After
// the last failed attempt the session is FAILED and the returned error
// wraps domain.ErrCommitFailed alongside a result listing every attempt.
//
// The commit does not observe cancellation of ctx once started.
func (s *Service) CommitSession(ctx context.Context, sessionID, operationID string) (*domain.CommitResult, error) {
	const op = "commit_session"
	operationID = s.operationID(operationID)
	ctx = context.WithoutCancel(ctx)

	sess, err := s.load(ctx, op, sessionID, operationID)
	if err != nil {
		return nil, s.fail(ctx, op, sessionID, operationID, err)
	}

	var missing []string
	if sess.ProductData == nil {
		missing = append(missing, "productData is required")
	}
	if sess.OrganizationGUID == "" {
		missing = append(missing, "organizationGuid is required")
	}
	if len(missing) > 0 {
		return nil, s.fail(ctx, op, sessionID, operationID,
			domain.NewError(domain.ErrValidation, op, sessionID, operationID, missing...))
	}
	if !sess.State.IsCommittable() {
		return nil, s.fail(ctx, op, sessionID, operationID, domain.NewError(domain.ErrInvalidState, op, sessionID, operationID,
			fmt.Sprintf("cannot commit from state %s", sess.State)))
	}

	target := sess.TargetData
	if target == nil {
		target = domain.DefaultTargetConfig()
	}

	start := s.now()
	s.logger.Info("Commit started",
		"session_id", sessionID,
		"operation_id", operationID,
		"target_configured", sess.TargetData != nil,
	)
	s.publish(ctx, domain.EventCommitStarted, sess, operationID, nil)

	result := &domain.CommitResult{OperationID: operationID}
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		productID, targetID, err := s.createRecords(ctx, sess, target, result, operationID)
		if err == nil {
			result.Success = true
			result.ProductID = productID
			result.TargetID = targetID
			break
		}

		result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt, err))
		s.logger.Warn("Commit attempt failed",
			"session_id", sessionID,
			"operation_id", operationID,
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"err", err,
		)
		s.publish(ctx, domain.EventCommitAttempt, sess, operationID, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})

		if !s.policy.ShouldRetry(attempt) {
			break
		}
		if err := s.sleep(ctx, s.policy.Delay(attempt)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("retry wait interrupted: %v", err))
			break
		}
	}

	attrs := map[string]any{
		"attempts": result.Attempts,
		"duration": s.now().Sub(start),
	}
	if result.Success {
		return s.finishCommit(ctx, sess, result, attrs)
	}
	return s.abortCommit(ctx, sess, result, attrs)
}

// createRecords runs one attempt. It returns the created ids or the error
// that ended the attempt, compensating the product on target failure.
func (s *Service) createRecords(ctx context.Context, sess *domain.Session, target *domain.TargetConfig, result *domain.CommitResult, operationID string) (string, string, error) {
	productID, err := s.records.Create(ctx, s.schema.Products, s.schema.productFields(sess))
	if err != nil {
		return "", "", fmt.Errorf("create product: %w", err)
	}

	targetID, err := s.records.Create(ctx, s.schema.Targets, s.schema.targetFields(target, productID))
	if err == nil {
		return productID, targetID, nil
	}

	if cerr := s.compensate(ctx, sess, productID, operationID); cerr != nil {
		result.OrphanedProductIDs = append(result.OrphanedProductIDs, productID)
		return "", "", fmt.Errorf("create target: %w; compensation of product %s failed: %v", err, productID, cerr)
	}
	return "", "", fmt.Errorf("create target: %w (product %s rolled back)", err, productID)
}

func (s *Service) compensate(ctx context.Context, sess *domain.Session, productID, operationID string) error {
	err := s.records.Delete(ctx, s.schema.Products, productID)
	if errors.Is(err, ports.ErrRecordNotFound) {
		err = nil
	}

	if err != nil {
		s.logger.Error("Compensation failed, product left orphaned",
			"session_id", sess.SessionID,
			"operation_id", operationID,
			"product_id", productID,
			"err", err,
		)
	} else {
		s.logger.Info("Orphaned product deleted",
			"session_id", sess.SessionID,
			"operation_id", operationID,
			"product_id", productID,
		)
	}
	s.publish(ctx, domain.EventCompensation, sess, operationID, map[string]any{
		"product_id": productID,
		"failed":     err != nil,
	})
	return err
}

func (s *Service) finishCommit(ctx context.Context, sess *domain.Session, result *domain.CommitResult, attrs map[string]any) (*domain.CommitResult, error) {
	const op = "commit_session"
	operationID := result.OperationID

	sess.State = domain.StateCommitted
	sess.CommitResult = &domain.CommitIDs{ProductID: result.ProductID, TargetID: result.TargetID}
	sess.Errors = nil
	if err := s.save(ctx, sess, operationID); err != nil {
		e := domain.AsError(err, op, sess.SessionID, operationID)
		e.Details = append(e.Details, fmt.Sprintf("records were created: product %s, target %s", result.ProductID, result.TargetID))
		return result, s.fail(ctx, op, sess.SessionID, operationID, e)
	}

	s.logger.Info("Commit succeeded",
		"session_id", sess.SessionID,
		"operation_id", operationID,
		"product_id", result.ProductID,
		"target_id", result.TargetID,
		"attempts", result.Attempts,
	)
	attrs["product_id"] = result.ProductID
	attrs["target_id"] = result.TargetID
	s.publish(ctx, domain.EventCommitSucceeded, sess, operationID, attrs)

	s.scheduleCleanup(sess.SessionID, operationID)
	return result, nil
}

func (s *Service) abortCommit(ctx context.Context, sess *domain.Session, result *domain.CommitResult, attrs map[string]any) (*domain.CommitResult, error) {
	const op = "commit_session"
	operationID := result.OperationID

	sess.State = domain.StateFailed
	sess.Errors = append(sess.Errors, result.Errors...)
	if err := s.save(ctx, sess, operationID); err != nil {
		return result, s.fail(ctx, op, sess.SessionID, operationID, err)
	}

	if len(result.OrphanedProductIDs) > 0 {
		attrs["orphaned_product_ids"] = result.OrphanedProductIDs
	}
	s.publish(ctx, domain.EventCommitFailed, sess, operationID, attrs)

	details := append([]string(nil), result.Errors...)
	for _, id := range result.OrphanedProductIDs {
		details = append(details, fmt.Sprintf("orphaned product %s requires reconciliation", id))
	}
	return result, s.fail(ctx, op, sess.SessionID, operationID,
		domain.NewError(domain.ErrCommitFailed, op, sess.SessionID, operationID, details...))
}

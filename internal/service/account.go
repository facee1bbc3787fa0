package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
)

// Deletion step labels, reported back to the user in order.
const (
	StepFoundUser        = "✓ Found user in database"
	StepStripeCleaned    = "✓ Cleaned up Stripe data"
	StepStripeIssues     = "⚠ Stripe cleanup had issues (continuing)"
	StepNoStripeData     = "✓ No Stripe data to clean up"
	StepDBDeleted        = "✓ Deleted from database"
	StepDBDeleteFailed   = "✗ Database deletion failed"
	StepNoDBRecord       = "✓ No database record found"
	StepAuthUserDeleted  = "✓ Deleted auth user"
	StepNoAuthUser       = "✓ No auth user to clean up"
	StepAuthCleanupIssue = "⚠ Auth cleanup had issues"
)

// DeletionReport lists what SelfDelete did.
type DeletionReport struct {
	Message string
	Steps   []string
}

// AccountService removes a user from every system that knows them.
type AccountService struct {
	repo      repository.UserAccessRepository
	payments  billing.Provider
	directory identity.Directory
	logger    *slog.Logger
}

func NewAccountService(repo repository.UserAccessRepository, payments billing.Provider, directory identity.Directory, logger *slog.Logger) *AccountService {
	if directory == nil {
		directory = identity.Disabled{}
	}
	return &AccountService{
		repo:      repo,
		payments:  payments,
		directory: directory,
		logger:    logger,
	}
}

// SelfDelete is best effort after the initial lookup: provider and
// auth-provider failures are recorded as steps and deletion continues.
func (s *AccountService) SelfDelete(ctx context.Context, email string) (*DeletionReport, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.String("email", email))
	log.Info("starting account deletion")

	var steps []string

	ua, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		steps = append(steps, StepFoundUser)
		steps = append(steps, s.cleanupBilling(ctx, log, ua))

		if _, err := s.repo.DeleteByEmail(ctx, email); err != nil {
			log.Error("database deletion failed", slog.String("error", err.Error()))
			steps = append(steps, StepDBDeleteFailed)
		} else {
			steps = append(steps, StepDBDeleted)
		}
	case errors.Is(err, apperror.ErrNotFound):
		steps = append(steps, StepNoDBRecord)
	default:
		return nil, fmt.Errorf("loading %s: %w", email, err)
	}

	steps = append(steps, s.cleanupIdentity(ctx, log, email))

	log.Info("account deletion completed", slog.Any("steps", steps))
	return &DeletionReport{
		Message: fmt.Sprintf("Account for %s has been completely deleted. All data removed from Stripe and database.", email),
		Steps:   steps,
	}, nil
}

// cleanupBilling cancels live subscriptions, detaches payment methods and
// deletes the customer. It stops at the first failure.
func (s *AccountService) cleanupBilling(ctx context.Context, log *slog.Logger, ua *model.UserAccess) string {
	customerID := ua.CustomerID()
	if customerID == "" {
		return StepNoStripeData
	}

	err := func() error {
		subs, err := s.payments.ListSubscriptions(ctx, customerID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if !sub.Live() {
				continue
			}
			if err := s.payments.CancelSubscription(ctx, sub.ID); err != nil {
				return err
			}
			log.Info("cancelled subscription", slog.String("subscription", sub.ID))
		}

		methods, err := s.payments.ListPaymentMethods(ctx, customerID)
		if err != nil {
			return err
		}
		for _, pm := range methods {
			if err := s.payments.DetachPaymentMethod(ctx, pm); err != nil {
				return err
			}
		}

		return s.payments.DeleteCustomer(ctx, customerID)
	}()
	if err != nil {
		log.Warn("stripe cleanup had issues, continuing",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		return StepStripeIssues
	}

	log.Info("deleted stripe customer", slog.String("customer", customerID))
	return StepStripeCleaned
}

func (s *AccountService) cleanupIdentity(ctx context.Context, log *slog.Logger, email string) string {
	ids, err := s.directory.FindUserIDsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotConfigured) {
			return StepNoAuthUser
		}
		log.Warn("auth cleanup had issues", slog.String("error", err.Error()))
		return StepAuthCleanupIssue
	}
	if len(ids) == 0 {
		return StepNoAuthUser
	}

	for _, id := range ids {
		if err := s.directory.DeleteUser(ctx, id); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			log.Warn("auth cleanup had issues",
				slog.String("user_id", id),
				slog.String("error", err.Error()),
			)
			return StepAuthCleanupIssue
		}
	}
	return StepAuthUserDeleted
}

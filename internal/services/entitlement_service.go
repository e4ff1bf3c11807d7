package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/database"
	"entitlement-api/internal/metrics"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// PairingDirectory is the pairing collaborator: members of accepted pairings
// and their persisted premium flag.
type PairingDirectory interface {
	GetAcceptedPairings(ctx context.Context, userID string) ([]models.Pairing, error)
	SetPremiumStatus(ctx context.Context, pairingID string, premium bool) error
	UserHasPremiumPairing(ctx context.Context, userID string) (bool, error)
}

// UserDirectory answers whether an account exists.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// PremiumNotifier is told about every completed reconciliation pass.
type PremiumNotifier interface {
	NotifyPremiumReconciled(userID string, pairings []PairingPremium)
}

// PairingPremium is the flag written for one pairing.
type PairingPremium struct {
	PairingID string `json:"pairing_id"`
	Premium   bool   `json:"premium"`
}

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	// PremiumPairingIDs are the pairings whose flag is true after the pass.
	PremiumPairingIDs []string         `json:"premium_pairing_ids"`
	Reconciled        []PairingPremium `json:"reconciled"`
	// FailedPairingIDs were skipped; their flag is stale until the next pass.
	FailedPairingIDs []string `json:"failed_pairing_ids,omitempty"`
}

// ReceiptResult is the outcome of ProcessReceipt.
type ReceiptResult struct {
	Platform       string
	Subscription   SubscriptionRecord
	Created        bool
	IsActive       bool
	PremiumUpdates []string
	// ReconcileFailed counts pairings whose flag could not be written.
	ReconcileFailed int
	Warnings        []string
}

// PremiumStatus answers a status query from persisted state.
type PremiumStatus struct {
	Premium             bool
	ActiveSubscriptions []SubscriptionRecord
	LatestExpiration    *int64
}

// ReceiptHistory lists every stored receipt of a user.
type ReceiptHistory struct {
	IOS     []models.IOSSubscription
	Android []models.AndroidSubscription
	NowMs   int64
}

// EntitlementService validates and stores receipts and keeps every pairing's
// premium flag equal to "either member has an active subscription".
type EntitlementService struct {
	validator *ReceiptValidator
	guard     *OwnershipGuard
	platforms map[string]ReceiptPlatform
	order     []ReceiptPlatform
	ios       IOSStore
	android   AndroidStore
	pairings  PairingDirectory
	users     UserDirectory
	notifier  PremiumNotifier
	// notifyInline delivers before Reconcile returns instead of in the background.
	notifyInline bool
	now          func() time.Time
}

type Option func(*EntitlementService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *EntitlementService) { s.now = now }
}

// WithNotifier registers a notifier for completed reconciliations. Delivery
// runs in its own goroutine and never delays a response.
func WithNotifier(notifier PremiumNotifier) Option {
	return func(s *EntitlementService) {
		s.notifier = notifier
		s.notifyInline = false
	}
}

// WithBlockingNotifier makes Reconcile wait for delivery. For short-lived
// processes that would otherwise exit before a background send completes.
func WithBlockingNotifier(notifier PremiumNotifier) Option {
	return func(s *EntitlementService) {
		s.notifier = notifier
		s.notifyInline = true
	}
}

func NewEntitlementService(ios IOSStore, android AndroidStore, pairings PairingDirectory, users UserDirectory, opts ...Option) *EntitlementService {
	validator := NewReceiptValidator()
	iosVariant := newIOSPlatform(validator, ios)
	androidVariant := newAndroidPlatform(validator, android)

	s := &EntitlementService{
		validator: validator,
		guard:     NewOwnershipGuard(),
		platforms: map[string]ReceiptPlatform{
			iosVariant.Name():     iosVariant,
			androidVariant.Name(): androidVariant,
		},
		order:    []ReceiptPlatform{iosVariant, androidVariant},
		ios:      ios,
		android:  android,
		pairings: pairings,
		users:    users,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EntitlementService) nowMs() int64 {
	return s.now().UnixMilli()
}

// ProcessReceipt is the single entry point for a submission: normalize,
// validate, ownership check, upsert, then a synchronous reconciliation of every
// accepted pairing of userID. The result reflects the completed reconciliation.
func (s *EntitlementService) ProcessReceipt(ctx context.Context, userID string, body []byte) (*ReceiptResult, error) {
	platformName, err := PlatformOf(body)
	if err != nil {
		metrics.ReceiptsProcessedTotal.WithLabelValues("unknown", string(apperrors.KindValidation)).Inc()
		return nil, err
	}
	platform := s.platforms[platformName]

	result, err := s.storeReceipt(ctx, platform, userID, body)
	if err != nil {
		metrics.ReceiptsProcessedTotal.WithLabelValues(platformName, string(apperrors.KindOf(err))).Inc()
		return nil, err
	}

	outcome := "updated"
	if result.Created {
		outcome = "created"
	}
	metrics.ReceiptsProcessedTotal.WithLabelValues(platformName, outcome).Inc()

	reconciled, err := s.Reconcile(ctx, userID)
	if err != nil {
		// The receipt is stored; the next submission by any member repairs the flags.
		logging.Errorf("Reconciliation skipped after receipt - user_id: %s, subscription_id: %s, error: %v",
			userID, result.Subscription.ID, err)
		result.PremiumUpdates = []string{}
		result.Warnings = append(result.Warnings, "pairings could not be loaded; premium status was not recomputed")
		return result, nil
	}

	result.PremiumUpdates = reconciled.PremiumPairingIDs
	result.ReconcileFailed = len(reconciled.FailedPairingIDs)
	for _, pairingID := range reconciled.FailedPairingIDs {
		result.Warnings = append(result.Warnings, fmt.Sprintf("pairing %s could not be reconciled", pairingID))
	}

	logging.Infof("Receipt processed - user_id: %s, platform: %s, subscription_id: %s, %s, active: %t, premium_pairings: %d, failed_pairings: %d",
		userID, platformName, result.Subscription.ID, outcome, result.IsActive,
		len(reconciled.PremiumPairingIDs), len(reconciled.FailedPairingIDs))

	return result, nil
}

func (s *EntitlementService) storeReceipt(ctx context.Context, platform ReceiptPlatform, userID string, body []byte) (*ReceiptResult, error) {
	receipt, err := platform.Validate(body)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Check(ctx, userID, platform.NaturalKeys(receipt)); err != nil {
		if apperrors.IsKind(err, apperrors.KindOwnershipConflict) {
			logging.Warnf("Ownership conflict - user_id: %s, platform: %s, %v", userID, platform.Name(), err)
		}
		return nil, err
	}

	record, created, err := platform.Upsert(ctx, userID, receipt)
	switch {
	case errors.Is(err, database.ErrOwnerMismatch):
		// Another account stored the key between the ownership check and the insert.
		logging.Warnf("Ownership conflict on upsert - user_id: %s, platform: %s", userID, platform.Name())
		return nil, apperrors.OwnershipConflict("receipt identifiers are already registered to another account")
	case errors.Is(err, database.ErrKeysSplit):
		return nil, apperrors.OwnershipConflict("receipt identifiers match two different stored purchases")
	case err != nil:
		return nil, apperrors.Internal(err, "failed to store subscription")
	}

	return &ReceiptResult{
		Platform:     platform.Name(),
		Subscription: *record,
		Created:      created,
		IsActive:     record.IsActiveAt(s.nowMs()),
	}, nil
}

// HasActiveSubscription reports whether userID has an unexpired purchase on any platform.
func (s *EntitlementService) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	nowMs := s.nowMs()
	for _, platform := range s.order {
		active, err := platform.HasActiveSubscription(ctx, userID, nowMs)
		if err != nil {
			return false, fmt.Errorf("%s: %w", platform.Name(), err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// ComputePairingPremium evaluates the flag from current subscription rows. It is never cached.
func (s *EntitlementService) ComputePairingPremium(ctx context.Context, pairing *models.Pairing) (bool, error) {
	for _, member := range pairing.Members() {
		active, err := s.HasActiveSubscription(ctx, member)
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// Reconcile recomputes and writes the premium flag of every accepted pairing
// containing userID, one pairing at a time. The flag is written even when it
// did not change. A pairing that fails is logged and skipped; the others still
// get written.
func (s *EntitlementService) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	pairings, err := s.pairings.GetAcceptedPairings(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load pairings")
	}

	result := &ReconcileResult{
		PremiumPairingIDs: []string{},
		Reconciled:        make([]PairingPremium, 0, len(pairings)),
	}

	for i := range pairings {
		pairing := &pairings[i]

		premium, err := s.ComputePairingPremium(ctx, pairing)
		if err != nil {
			s.recordFailure(result, pairing.ID, userID, err)
			continue
		}

		if err := s.pairings.SetPremiumStatus(ctx, pairing.ID, premium); err != nil {
			s.recordFailure(result, pairing.ID, userID, err)
			continue
		}

		metrics.RecordPairingReconciled(premium)
		result.Reconciled = append(result.Reconciled, PairingPremium{PairingID: pairing.ID, Premium: premium})
		if premium {
			result.PremiumPairingIDs = append(result.PremiumPairingIDs, pairing.ID)
		}
	}

	if s.notifier != nil && len(result.Reconciled) > 0 {
		if s.notifyInline {
			s.notifier.NotifyPremiumReconciled(userID, result.Reconciled)
		} else {
			go s.notifier.NotifyPremiumReconciled(userID, result.Reconciled)
		}
	}

	return result, nil
}

func (s *EntitlementService) recordFailure(result *ReconcileResult, pairingID, userID string, err error) {
	metrics.ReconcileFailuresTotal.Inc()
	logging.Logger().Error().Err(err).
		Str("pairing_id", pairingID).
		Str("user_id", userID).
		Msg("Failed to reconcile pairing")
	result.FailedPairingIDs = append(result.FailedPairingIDs, pairingID)
}

// GetStatus reads the persisted premium flag; it never triggers a recomputation.
func (s *EntitlementService) GetStatus(ctx context.Context, userID string) (*PremiumStatus, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	premium, err := s.pairings.UserHasPremiumPairing(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to read premium status")
	}

	nowMs := s.nowMs()
	status := &PremiumStatus{Premium: premium, ActiveSubscriptions: []SubscriptionRecord{}}
	for _, platform := range s.order {
		records, err := platform.ActiveSubscriptions(ctx, userID, nowMs)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to list active subscriptions")
		}
		status.ActiveSubscriptions = append(status.ActiveSubscriptions, records...)
	}

	sort.SliceStable(status.ActiveSubscriptions, func(i, j int) bool {
		return status.ActiveSubscriptions[i].ExpirationDate > status.ActiveSubscriptions[j].ExpirationDate
	})
	if len(status.ActiveSubscriptions) > 0 {
		latest := status.ActiveSubscriptions[0].ExpirationDate
		status.LatestExpiration = &latest
	}

	return status, nil
}

// GetReceiptHistory returns every stored receipt of userID on both platforms.
func (s *EntitlementService) GetReceiptHistory(ctx context.Context, userID string) (*ReceiptHistory, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	iosRows, err := s.ios.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list ios receipts")
	}
	androidRows, err := s.android.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list android receipts")
	}

	return &ReceiptHistory{IOS: iosRows, Android: androidRows, NowMs: s.nowMs()}, nil
}

func (s *EntitlementService) requireUser(ctx context.Context, userID string) error {
	if s.users == nil {
		return nil
	}
	exists, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return apperrors.Internal(err, "failed to look up user")
	}
	if !exists {
		return apperrors.NotFound("user not found")
	}
	return nil
}

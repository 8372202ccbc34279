package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/blocking"
	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/events"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/notify"
	"phone-auth-service/internal/otp"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/security"
	"phone-auth-service/internal/util"
	"phone-auth-service/internal/validation"
)

const (
	MessageOTPSent            = "OTP sent successfully"
	MessageAuthenticated      = "Authentication successful"
	MessageOTPNotFound        = "OTP expired or not found. Please request new OTP."
	MessageOTPExpired         = "OTP expired. Please request new OTP."
	MessageAttemptsExceeded   = "Too many invalid attempts. Please request new OTP."
	MessageSuspicious         = "Request blocked due to suspicious activity"
	MessageValidationFailed   = "Validation failed"
	MessageInitiateFailed     = "Failed to initiate phone authentication"
	MessageVerifyFailed       = "Failed to verify OTP"
	MessageAdminFailed        = "Failed to process admin request"
	defaultRecentEventsLimit  = 50
	defaultDeliveryTimeout    = 5 * time.Second
	recaptchaRequiredFieldMsg = "recaptchaToken is a required field"
)

// InitiateRequest is the payload of the initiate flow.
type InitiateRequest struct {
	PhoneNumber    string `json:"phoneNumber" validate:"required,e164"`
	RecaptchaToken string `json:"recaptchaToken,omitempty"`
}

// VerifyRequest is the payload of the verify flow. VerificationID is carried
// for correlation only.
type VerifyRequest struct {
	PhoneNumber    string `json:"phoneNumber" validate:"required,e164"`
	OTPCode        string `json:"otpCode" validate:"required,otp"`
	VerificationID string `json:"verificationId" validate:"required"`
}

// DeviceInfo describes the caller of a request.
type DeviceInfo struct {
	IPAddress string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

type InitiateResult struct {
	Message        string `json:"-"`
	VerificationID string `json:"verificationId"`
	ExpiresIn      int    `json:"expiresIn"`
}

type VerifyResult struct {
	Message string       `json:"-"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

// BlockStatus is the operator view of one phone number.
type BlockStatus struct {
	PhoneNumber   string              `json:"phoneNumber"`
	Blocked       bool                `json:"blocked"`
	Reason        string              `json:"reason,omitempty"`
	RemainingTime string              `json:"remainingTime,omitempty"`
	Record        *models.BlockRecord `json:"record,omitempty"`
}

type Validator interface {
	Validate(data any) error
}

type CredentialIssuer interface {
	Issue(userID, phone string) (string, error)
}

type PhoneHasher interface {
	Hash(phone string) string
}

// EventSearcher looks up recorded security events for a phone hash.
type EventSearcher interface {
	Recent(ctx context.Context, phoneHash string, limit int) ([]models.SecurityEvent, error)
}

// Dependencies are the collaborators of AuthService. Events and EventSearch
// are optional.
type Dependencies struct {
	Ledger           *otp.Ledger
	Blocking         *blocking.Service
	Detector         *security.Detector
	Users            repository.UserRepository
	Sender           notify.Sender
	Tokens           CredentialIssuer
	Validator        Validator
	Hasher           PhoneHasher
	Events           events.Publisher
	EventSearch      EventSearcher
	Clock            clock.Clock
	Logger           *zap.Logger
	DeliveryTimeout  time.Duration
	RequireRecaptcha bool
}

// AuthService runs the phone OTP flows on top of the ledger, the block
// state machine and the suspicious-activity detector.
type AuthService struct {
	ledger           *otp.Ledger
	blocking         *blocking.Service
	detector         *security.Detector
	users            repository.UserRepository
	sender           notify.Sender
	tokens           CredentialIssuer
	validator        Validator
	hasher           PhoneHasher
	events           events.Publisher
	eventSearch      EventSearcher
	clock            clock.Clock
	logger           *zap.Logger
	deliveryTimeout  time.Duration
	requireRecaptcha bool
}

func NewAuthService(deps Dependencies) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.DeliveryTimeout <= 0 {
		deps.DeliveryTimeout = defaultDeliveryTimeout
	}
	return &AuthService{
		ledger:           deps.Ledger,
		blocking:         deps.Blocking,
		detector:         deps.Detector,
		users:            deps.Users,
		sender:           deps.Sender,
		tokens:           deps.Tokens,
		validator:        deps.Validator,
		hasher:           deps.Hasher,
		events:           deps.Events,
		eventSearch:      deps.EventSearch,
		clock:            deps.Clock,
		logger:           deps.Logger,
		deliveryTimeout:  deps.DeliveryTimeout,
		requireRecaptcha: deps.RequireRecaptcha,
	}
}

// InitiatePhoneAuth issues a code for req.PhoneNumber and hands it to the
// delivery channel.
func (s *AuthService) InitiatePhoneAuth(ctx context.Context, req InitiateRequest, device DeviceInfo) (*InitiateResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if s.requireRecaptcha && req.RecaptchaToken == "" {
		return nil, &AuthError{
			Kind:    ErrValidationFailed,
			Message: MessageValidationFailed,
			Fields:  map[string]string{"recaptchaToken": recaptchaRequiredFieldMsg},
		}
	}
	phone := req.PhoneNumber

	if device.Timestamp.IsZero() {
		device.Timestamp = s.clock.Now()
	}
	if err := s.detector.RecordSighting(ctx, &models.RequestLogEntry{
		Timestamp:   device.Timestamp,
		IPAddress:   device.IPAddress,
		Endpoint:    "/phone/initiate",
		PhoneNumber: phone,
		UserAgent:   device.UserAgent,
	}); err != nil {
		s.logger.Warn("Failed to record request sighting", util.Phone("phone", phone), zap.Error(err))
	}

	suspicious, err := s.detector.IsSuspicious(ctx, phone)
	if err != nil {
		s.logger.Warn("Suspicious activity check failed, continuing", util.Phone("phone", phone), zap.Error(err))
	}
	if suspicious {
		s.detector.LogFailure(ctx, device.IPAddress, models.AttemptKindIP, security.ReasonSuspicious)
		s.publish(ctx, models.EventSuspiciousActivity, phone, "", device, security.ReasonSuspicious, nil)
		return nil, newAuthError(ErrSuspiciousActivity, MessageSuspicious)
	}

	if err := s.checkBlocked(ctx, phone, device, MessageInitiateFailed); err != nil {
		return nil, err
	}

	issued, err := s.ledger.Issue(phone)
	if err != nil {
		var active *otp.AlreadyActiveError
		if errors.As(err, &active) {
			return nil, &AuthError{
				Kind:             ErrOTPAlreadyActive,
				Message:          fmt.Sprintf("Please wait %d seconds before requesting new OTP", active.RemainingSeconds),
				RemainingSeconds: active.RemainingSeconds,
			}
		}
		return nil, internalError(MessageInitiateFailed, err)
	}

	rec, err := s.blocking.RecordAttempt(ctx, phone)
	if err != nil {
		s.ledger.Revoke(phone, issued.VerificationID)
		return nil, internalError(MessageInitiateFailed, err)
	}
	s.publishEscalation(ctx, phone, device, rec)

	sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	if err := s.sender.Send(sendCtx, phone, issued.Code); err != nil {
		s.logger.Error("Failed to deliver OTP", util.Phone("phone", phone), zap.Error(err))
		s.ledger.Revoke(phone, issued.VerificationID)
		return nil, internalError(MessageInitiateFailed, fmt.Errorf("failed to deliver otp: %w", err))
	}

	s.publish(ctx, models.EventOTPIssued, phone, "", device, "", map[string]string{
		"verificationId": issued.VerificationID,
	})
	s.logger.Info("OTP issued",
		util.Phone("phone", phone),
		zap.String("verification_id", issued.VerificationID),
		zap.Int("expires_in", issued.ExpiresIn))

	return &InitiateResult{
		Message:        MessageOTPSent,
		VerificationID: issued.VerificationID,
		ExpiresIn:      issued.ExpiresIn,
	}, nil
}

// VerifyOTP checks code against the live code for req.PhoneNumber and, on a
// match, returns a credential for the verified user.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyRequest, device DeviceInfo) (*VerifyResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	phone := req.PhoneNumber

	if err := s.checkBlocked(ctx, phone, device, MessageVerifyFailed); err != nil {
		return nil, err
	}

	outcome := s.ledger.Verify(phone, req.OTPCode)
	switch outcome.Status {
	case otp.StatusNotFound:
		s.publish(ctx, models.EventOTPFailed, phone, "", device, outcome.Status.String(), nil)
		return nil, newAuthError(ErrOTPNotFound, MessageOTPNotFound)
	case otp.StatusExpired:
		s.publish(ctx, models.EventOTPFailed, phone, "", device, outcome.Status.String(), nil)
		return nil, newAuthError(ErrOTPExpired, MessageOTPExpired)
	case otp.StatusAttemptsExceeded:
		if err := s.recordFailure(ctx, phone, device, outcome); err != nil {
			return nil, err
		}
		return nil, newAuthError(ErrOTPAttemptsExceeded, MessageAttemptsExceeded)
	case otp.StatusMismatch:
		if err := s.recordFailure(ctx, phone, device, outcome); err != nil {
			return nil, err
		}
		return nil, &AuthError{
			Kind:              ErrOTPMismatch,
			Message:           fmt.Sprintf("Invalid OTP. %d attempts remaining.", outcome.AttemptsRemaining),
			AttemptsRemaining: outcome.AttemptsRemaining,
		}
	}

	user, err := s.users.UpsertVerified(ctx, phone, s.clock.Now())
	if err != nil {
		return nil, internalError(MessageVerifyFailed, err)
	}
	tok, err := s.tokens.Issue(user.UserID, phone)
	if err != nil {
		return nil, internalError(MessageVerifyFailed, err)
	}

	s.publish(ctx, models.EventOTPVerified, phone, user.UserID, device, "", map[string]string{
		"verificationId": req.VerificationID,
	})
	s.logger.Info("Phone verified",
		util.Phone("phone", phone),
		zap.String("user_id", user.UserID),
		zap.String("verification_id", req.VerificationID))

	return &VerifyResult{Message: MessageAuthenticated, Token: tok, User: user}, nil
}

// Unblock clears every block state of phone. It reports whether a record
// existed.
func (s *AuthService) Unblock(ctx context.Context, phone string) (bool, error) {
	ok, err := s.blocking.Unblock(ctx, phone)
	if err != nil {
		return false, internalError(MessageAdminFailed, err)
	}
	if ok {
		s.publish(ctx, models.EventUnblocked, phone, "", DeviceInfo{}, "admin", nil)
	}
	return ok, nil
}

func (s *AuthService) ListBlocked(ctx context.Context) ([]blocking.BlockedEntity, error) {
	list, err := s.blocking.ListBlocked(ctx)
	if err != nil {
		return nil, internalError(MessageAdminFailed, err)
	}
	return list, nil
}

// BlockStatus reports whether phone is denied right now together with its
// stored record. A phone without a record is reported as not blocked.
func (s *AuthService) BlockStatus(ctx context.Context, phone string) (*BlockStatus, error) {
	status := &BlockStatus{PhoneNumber: phone}

	rec, err := s.blocking.Get(ctx, phone)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status, nil
	case err != nil:
		return nil, internalError(MessageAdminFailed, err)
	}
	status.Record = rec

	now := s.clock.Now()
	switch {
	case rec.IsPermanentlyBlocked:
		status.Blocked = true
		status.Reason = string(blocking.ReasonAdminBlocked)
	case rec.TemporaryBlockUntil != nil && rec.TemporaryBlockUntil.After(now):
		status.Blocked = true
		status.Reason = string(blocking.ReasonTemporaryBlocked)
		status.RemainingTime = blocking.FormatRemaining(rec.TemporaryBlockUntil.Sub(now))
	}
	return status, nil
}

// RecentEvents returns the indexed security events for phone. It returns an
// empty slice when no event index is configured.
func (s *AuthService) RecentEvents(ctx context.Context, phone string, limit int) ([]models.SecurityEvent, error) {
	if s.eventSearch == nil {
		return []models.SecurityEvent{}, nil
	}
	if limit <= 0 {
		limit = defaultRecentEventsLimit
	}
	list, err := s.eventSearch.Recent(ctx, s.hasher.Hash(phone), limit)
	if err != nil {
		return nil, internalError(MessageAdminFailed, err)
	}
	return list, nil
}

func (s *AuthService) validate(req any) error {
	if s.validator == nil {
		return nil
	}
	err := s.validator.Validate(req)
	if err == nil {
		return nil
	}
	ae := &AuthError{Kind: ErrValidationFailed, Message: MessageValidationFailed}
	var fields validation.Errors
	if errors.As(err, &fields) {
		ae.Fields = fields
	} else {
		ae.Err = err
	}
	return ae
}

func (s *AuthService) checkBlocked(ctx context.Context, phone string, device DeviceInfo, failMessage string) error {
	decision, err := s.blocking.CheckBlocked(ctx, phone)
	if err != nil {
		return internalError(failMessage, err)
	}
	if decision.Allowed {
		return nil
	}

	s.publish(ctx, models.EventBlocked, phone, "", device, string(decision.Reason), nil)
	if decision.Reason == blocking.ReasonTemporaryBlocked {
		return &AuthError{
			Kind:          ErrTemporarilyBlocked,
			Message:       decision.Message,
			BlockedUntil:  decision.BlockedUntil,
			RemainingTime: decision.RemainingTime,
		}
	}
	return newAuthError(ErrPermanentlyBlocked, decision.Message)
}

func (s *AuthService) recordFailure(ctx context.Context, phone string, device DeviceInfo, outcome otp.Outcome) error {
	rec, err := s.blocking.RecordAttempt(ctx, phone)
	if err != nil {
		return internalError(MessageVerifyFailed, err)
	}
	s.publish(ctx, models.EventOTPFailed, phone, "", device, outcome.Status.String(), nil)
	s.publishEscalation(ctx, phone, device, rec)
	return nil
}

// publishEscalation emits a blocked event when rec just became blocked.
func (s *AuthService) publishEscalation(ctx context.Context, phone string, device DeviceInfo, rec *models.BlockRecord) {
	if rec == nil || !rec.Blocked(s.clock.Now()) {
		return
	}
	reason := string(blocking.ReasonTemporaryBlocked)
	if rec.IsPermanentlyBlocked {
		reason = string(blocking.ReasonAdminBlocked)
	}
	s.publish(ctx, models.EventBlocked, phone, "", device, reason, map[string]string{
		"dailyAttempts": strconv.Itoa(rec.DailyAttempts),
	})
}

func (s *AuthService) publish(ctx context.Context, kind models.SecurityEventType, phone, userID string, device DeviceInfo, reason string, details map[string]string) {
	event := &models.SecurityEvent{
		EventID:    uuid.NewString(),
		EventType:  kind,
		UserID:     userID,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		Reason:     reason,
		OccurredAt: s.clock.Now().UTC(),
		Details:    details,
	}
	if s.hasher != nil {
		event.PhoneHash = s.hasher.Hash(phone)
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish security event",
			zap.String("event_type", string(kind)),
			zap.Error(err))
	}
}

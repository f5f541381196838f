package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/timeseal/timeseal-go/internal/crypto"
	"github.com/timeseal/timeseal-go/internal/geo"
	"github.com/timeseal/timeseal-go/internal/model"
	"github.com/timeseal/timeseal-go/internal/repository"
)

var (
	ErrNameInvalid      = errors.New("name must be between 3 and 25 characters")
	ErrMessageRequired  = errors.New("message is required")
	ErrMessageTooLong   = errors.New("message must be at most 600 characters")
	ErrCodeInvalid      = errors.New("code must be exactly 6 digits")
	ErrLockYearsInvalid = errors.New("lock duration must be between 1 and 3 years")
	ErrCapsuleExists    = errors.New("owner already has a sealed capsule")
	ErrQuotaExceeded    = errors.New("capsule quota exhausted")
	ErrCapsuleNotFound  = errors.New("capsule not found")
	ErrInvalidCode      = errors.New("invalid unlock code")
	ErrLocationRequired = errors.New("capsule requires location verification")
	ErrCapsuleOpened    = errors.New("capsule is already opened")
)

// StillLockedError means the unlock attempt came before the capsule's
// unlock date. It carries the date for client display.
type StillLockedError struct {
	LockedUntil time.Time
}

func (e *StillLockedError) Error() string {
	return fmt.Sprintf("capsule is locked until %s", e.LockedUntil.Format(time.RFC3339))
}

// LocationMismatchError means the opener's fix was outside the geofence.
// It carries the computed distance for user feedback.
type LocationMismatchError struct {
	DistanceM float64
}

func (e *LocationMismatchError) Error() string {
	return fmt.Sprintf("you must be at the sealing location to open this capsule (%.0f m away)", e.DistanceM)
}

const (
	nameMinLen    = 3
	nameMaxLen    = 25
	messageMaxLen = 600
	minLockYears  = 1
	maxLockYears  = 3

	defaultListLimit = 25
	maxListLimit     = 100
)

// CapsuleStore is the persistence surface the lifecycle engine depends on.
// Not-found conditions are reported with repository.ErrCapsuleNotFound.
type CapsuleStore interface {
	Create(ctx context.Context, c *model.Capsule) error
	GetByID(ctx context.Context, id string) (*model.Capsule, error)
	GetByOwner(ctx context.Context, ownerID int64) (*model.Capsule, error)
	GetByOwnerEmail(ctx context.Context, email string) (*model.Capsule, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]model.Capsule, error)
	Count(ctx context.Context) (int64, error)
	Rename(ctx context.Context, id, name string) error
	MarkOpened(ctx context.Context, id, plaintext string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// CapsuleService is the capsule lifecycle engine: it seals capsules,
// enforces the time-lock, orchestrates code and geofence verification, and
// performs the one-time decrypt-and-persist transition.
type CapsuleService struct {
	store          CapsuleStore
	quota          int64
	baseToleranceM float64
	now            func() time.Time
}

// NewCapsuleService creates a new CapsuleService. quota <= 0 disables the
// global capsule limit.
func NewCapsuleService(store CapsuleStore, quota int64, baseToleranceM float64) *CapsuleService {
	return &CapsuleService{
		store:          store,
		quota:          quota,
		baseToleranceM: baseToleranceM,
		now:            time.Now,
	}
}

// Seal creates a new capsule: validates the inputs, enforces the
// one-capsule-per-owner rule and the global quota, hashes the code,
// encrypts the message and persists the record. The raw code and plaintext
// are discarded; only when the server generated the code is it returned,
// exactly once, in the response.
func (s *CapsuleService) Seal(ctx context.Context, ownerID int64, ownerEmail string, req model.SealCapsuleRequest) (model.SealCapsuleResponse, error) {
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n < nameMinLen || n > nameMaxLen {
		return model.SealCapsuleResponse{}, ErrNameInvalid
	}
	if req.Message == "" {
		return model.SealCapsuleResponse{}, ErrMessageRequired
	}
	if utf8.RuneCountInString(req.Message) > messageMaxLen {
		return model.SealCapsuleResponse{}, ErrMessageTooLong
	}
	if req.YearsLocked < minLockYears || req.YearsLocked > maxLockYears {
		return model.SealCapsuleResponse{}, ErrLockYearsInvalid
	}

	code := req.Code
	generated := false
	if code == "" {
		var err error
		if code, err = crypto.GenerateCode(); err != nil {
			return model.SealCapsuleResponse{}, err
		}
		generated = true
	}
	if !isValidCode(code) {
		return model.SealCapsuleResponse{}, ErrCodeInvalid
	}

	existing, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil && !errors.Is(err, repository.ErrCapsuleNotFound) {
		return model.SealCapsuleResponse{}, err
	}
	if existing != nil {
		return model.SealCapsuleResponse{}, ErrCapsuleExists
	}

	if s.quota > 0 {
		total, err := s.store.Count(ctx)
		if err != nil {
			return model.SealCapsuleResponse{}, err
		}
		if total >= s.quota {
			return model.SealCapsuleResponse{}, ErrQuotaExceeded
		}
	}

	codeHash, err := crypto.HashSecret(code)
	if err != nil {
		return model.SealCapsuleResponse{}, err
	}
	ciphertext, err := crypto.EncryptMessage(req.Message, code)
	if err != nil {
		return model.SealCapsuleResponse{}, err
	}

	now := s.now().UTC()
	capsule := &model.Capsule{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		OwnerEmail:  ownerEmail,
		Name:        name,
		Message:     ciphertext,
		CodeHash:    codeHash,
		LockedUntil: now.AddDate(req.YearsLocked, 0, 0),
		Footprint:   req.Footprint,
		Attachment:  req.Attachment,
		IsOpened:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, capsule); err != nil {
		return model.SealCapsuleResponse{}, err
	}

	resp := model.SealCapsuleResponse{Capsule: capsuleToResponse(capsule)}
	if generated {
		resp.GeneratedCode = code
	}
	return resp, nil
}

// Unlock attempts to open the capsule with the given ID.
func (s *CapsuleService) Unlock(ctx context.Context, id, code string, current *model.Footprint) (model.CapsuleResponse, error) {
	capsule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.CapsuleResponse{}, mapNotFound(err)
	}
	return s.open(ctx, capsule, code, current)
}

// UnlockByEmail attempts to open the capsule sealed under the given email.
func (s *CapsuleService) UnlockByEmail(ctx context.Context, email, code string, current *model.Footprint) (model.CapsuleResponse, error) {
	capsule, err := s.store.GetByOwnerEmail(ctx, email)
	if err != nil {
		return model.CapsuleResponse{}, mapNotFound(err)
	}
	return s.open(ctx, capsule, code, current)
}

// open runs the unlock gates in a fixed order: already-opened, time-lock,
// code, geofence, then the atomic open transition. The ordering is an
// information-minimization policy: the time-lock is checked before the code
// so no hash comparison runs on a capsule that cannot open yet, and the code
// is checked before the geofence so a caller without the code learns nothing
// about the location requirement.
func (s *CapsuleService) open(ctx context.Context, capsule *model.Capsule, code string, current *model.Footprint) (model.CapsuleResponse, error) {
	// Reopening is defined success: the stored message is already plaintext.
	if capsule.IsOpened {
		return capsuleToResponse(capsule), nil
	}

	if s.now().Before(capsule.LockedUntil) {
		return model.CapsuleResponse{}, &StillLockedError{LockedUntil: capsule.LockedUntil}
	}

	match, err := crypto.VerifySecret(code, capsule.CodeHash)
	if err != nil {
		return model.CapsuleResponse{}, fmt.Errorf("verifying code: %w", err)
	}
	if !match {
		return model.CapsuleResponse{}, ErrInvalidCode
	}

	if capsule.Footprint != nil {
		if current == nil {
			return model.CapsuleResponse{}, ErrLocationRequired
		}
		saved := capsule.Footprint.Fix()
		fix := current.Fix()
		if !geo.IsWithin(fix, saved, s.baseToleranceM) {
			distance := geo.Distance(fix.Coordinate, saved.Coordinate)
			return model.CapsuleResponse{}, &LocationMismatchError{DistanceM: math.Round(distance)}
		}
	}

	plaintext, err := crypto.DecryptMessage(capsule.Message, code)
	if err != nil {
		return model.CapsuleResponse{}, fmt.Errorf("decrypting message: %w", err)
	}

	won, err := s.store.MarkOpened(ctx, capsule.ID, plaintext)
	if err != nil {
		return model.CapsuleResponse{}, err
	}
	if !won {
		// A concurrent attempt opened the capsule first; its stored
		// plaintext is authoritative.
		fresh, err := s.store.GetByID(ctx, capsule.ID)
		if err != nil {
			return model.CapsuleResponse{}, mapNotFound(err)
		}
		return capsuleToResponse(fresh), nil
	}

	capsule.IsOpened = true
	capsule.Message = plaintext
	return capsuleToResponse(capsule), nil
}

// Get retrieves one of the owner's capsules. The message stays hidden until
// the capsule is opened.
func (s *CapsuleService) Get(ctx context.Context, ownerID int64, id string) (model.CapsuleResponse, error) {
	capsule, err := s.ownedCapsule(ctx, ownerID, id)
	if err != nil {
		return model.CapsuleResponse{}, err
	}
	return capsuleToResponse(capsule), nil
}

// List returns a page of the owner's capsules, newest first.
func (s *CapsuleService) List(ctx context.Context, ownerID int64, limit, offset int) ([]model.CapsuleResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	capsules, err := s.store.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}

	result := make([]model.CapsuleResponse, len(capsules))
	for i := range capsules {
		result[i] = capsuleToResponse(&capsules[i])
	}
	return result, nil
}

// Rename changes a capsule's display name. Opened capsules are read-only.
func (s *CapsuleService) Rename(ctx context.Context, ownerID int64, id, name string) (model.CapsuleResponse, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < nameMinLen || n > nameMaxLen {
		return model.CapsuleResponse{}, ErrNameInvalid
	}

	capsule, err := s.ownedCapsule(ctx, ownerID, id)
	if err != nil {
		return model.CapsuleResponse{}, err
	}
	if capsule.IsOpened {
		return model.CapsuleResponse{}, ErrCapsuleOpened
	}

	if err := s.store.Rename(ctx, capsule.ID, name); err != nil {
		return model.CapsuleResponse{}, mapNotFound(err)
	}

	capsule.Name = name
	return capsuleToResponse(capsule), nil
}

// Delete removes one of the owner's capsules and returns its attachment
// metadata, if any, so the caller can clean up the stored blob.
func (s *CapsuleService) Delete(ctx context.Context, ownerID int64, id string) (*model.Attachment, error) {
	capsule, err := s.ownedCapsule(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, capsule.ID); err != nil {
		return nil, mapNotFound(err)
	}
	return capsule.Attachment, nil
}

// Stats reports global capsule usage against the configured quota.
func (s *CapsuleService) Stats(ctx context.Context) (model.StatsResponse, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return model.StatsResponse{}, err
	}

	stats := model.StatsResponse{Total: total, Limit: s.quota}
	if s.quota > 0 {
		stats.Remaining = max(0, s.quota-total)
	}
	return stats, nil
}

// ownedCapsule fetches a capsule and verifies ownership. A capsule owned by
// someone else reads as not found so IDs cannot be probed.
func (s *CapsuleService) ownedCapsule(ctx context.Context, ownerID int64, id string) (*model.Capsule, error) {
	capsule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if capsule.OwnerID != ownerID {
		return nil, ErrCapsuleNotFound
	}
	return capsule, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrCapsuleNotFound) {
		return ErrCapsuleNotFound
	}
	return err
}

// isValidCode reports whether code is exactly six ASCII digits.
func isValidCode(code string) bool {
	if len(code) != crypto.CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// capsuleToResponse strips fields that must never leave the engine: the
// code hash always, the message until the capsule is opened.
func capsuleToResponse(c *model.Capsule) model.CapsuleResponse {
	resp := model.CapsuleResponse{
		ID:           c.ID,
		OwnerEmail:   c.OwnerEmail,
		Name:         c.Name,
		LockedUntil:  c.LockedUntil,
		HasFootprint: c.Footprint != nil,
		Attachment:   c.Attachment,
		IsOpened:     c.IsOpened,
		CreatedAt:    c.CreatedAt,
	}
	if c.IsOpened {
		resp.Message = c.Message
	}
	return resp
}

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/utils"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

var ErrInvalidSession = errors.New("invalid session token")

type SessionData struct {
	UserID    uint
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

type sessionStore struct {
	sessions map[string]SessionData
	mutex    sync.RWMutex
}

// SessionService authenticates internal users with a password and keeps
// their sessions in memory.
type SessionService struct {
	repo        repository.Repository
	store       *sessionStore
	logger      *zap.Logger
	metrics     *metrics.MetricsCollector
	ttl         time.Duration
	maxFailures int
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

func NewSessionService(repo repository.Repository, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, ttl time.Duration, maxFailures int) *SessionService {
	return &SessionService{
		repo:        repo,
		store:       &sessionStore{sessions: make(map[string]SessionData)},
		logger:      logger.With(zap.String("service", "session_service")),
		metrics:     metricsCollector,
		ttl:         ttl,
		maxFailures: maxFailures,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// StartCleanup drops expired sessions every interval until ctx ends or Stop
// is called.
func (ss *SessionService) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ss.stopChan:
				return
			case <-ticker.C:
				ss.cleanupExpiredSessions()
			}
		}
	}()
}

func (ss *SessionService) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopChan) })
}

func (ss *SessionService) cleanupExpiredSessions() int {
	ss.store.mutex.Lock()
	defer ss.store.mutex.Unlock()

	now := ss.now()
	removed := 0
	for token, session := range ss.store.sessions {
		if now.After(session.ExpiresAt) {
			delete(ss.store.sessions, token)
			removed++
			ss.metrics.IncrementCounter("sessions_expired", nil)
		}
	}
	return removed
}

// Login checks username and password. Unknown users, wrong passwords and
// locked accounts all fail with ErrInvalidCredential.
func (ss *SessionService) Login(ctx context.Context, username, password, ipAddress, userAgent string) (string, error) {
	if username == "" || password == "" {
		return "", apperr.InvalidInput("username and password required").WithFields("username", "password")
	}
	user, err := ss.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		utils.BurnPasswordCheck(password)
		ss.logger.Warn("Invalid username", zap.String("username", username))
		return "", ErrInvalidCredential
	}

	if ss.maxFailures > 0 && user.FailedAttempts >= ss.maxFailures {
		utils.BurnPasswordCheck(password)
		ss.logger.Warn("Login on locked account", zap.String("username", username))
		ss.metrics.IncrementCounter("logins_failed", map[string]string{"reason": "locked"})
		return "", ErrInvalidCredential
	}

	if ok, _ := utils.VerifyPassword(user.PasswordHash, password); !ok {
		user.FailedAttempts++
		if err := ss.repo.SaveUser(ctx, user); err != nil {
			ss.logger.Error("Could not record failed attempt", zap.Error(err))
		}
		ss.logger.Warn("Invalid password", zap.String("username", username), zap.String("ip", ipAddress))
		ss.metrics.IncrementCounter("logins_failed", map[string]string{"reason": "password"})
		return "", ErrInvalidCredential
	}
	if !user.ActiveStatus {
		ss.logger.Warn("Inactive account login", zap.String("username", username))
		return "", ErrInvalidCredential
	}

	user.FailedAttempts = 0
	user.LastLogin = ss.now()
	if err := ss.repo.SaveUser(ctx, user); err != nil {
		return "", err
	}

	token := uuid.New().String()
	ss.store.mutex.Lock()
	ss.store.sessions[token] = SessionData{
		UserID:    user.ID,
		ExpiresAt: ss.now().Add(ss.ttl),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	ss.store.mutex.Unlock()

	ss.metrics.IncrementCounter("logins", nil)
	ss.logger.Info("Created new session",
		zap.Uint("user_id", user.ID),
		zap.String("token", token[:8]+"..."),
		zap.String("ip_address", ipAddress),
	)
	return token, nil
}

func (ss *SessionService) Session(token string) (SessionData, error) {
	ss.store.mutex.RLock()
	sd, exists := ss.store.sessions[token]
	ss.store.mutex.RUnlock()
	if !exists || ss.now().After(sd.ExpiresAt) {
		return SessionData{}, ErrInvalidSession
	}
	return sd, nil
}

func (ss *SessionService) Logout(token string) {
	ss.store.mutex.Lock()
	sd, exists := ss.store.sessions[token]
	delete(ss.store.sessions, token)
	ss.store.mutex.Unlock()
	if exists {
		ss.logger.Info("User logged out", zap.Uint("user_id", sd.UserID))
	}
}

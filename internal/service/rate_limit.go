package service

import (
	"context"
	"time"

	"social_chat/internal/repository"
	"social_chat/pkg/logger"
)

type RateLimitService interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	return s.rateLimitRepo.Allow(ctx, key, limit, window)
}

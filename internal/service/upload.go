package service

import (
	"context"
	"io"
	"strings"

	"github.com/benbjohnson/clock"

	"social_chat/internal/domain"
	"social_chat/internal/storage"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// MediaUploader - хранилище вложений (S3Uploader)
type MediaUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type UploadResult struct {
	URL  string             `json:"url"`
	Type domain.MessageType `json:"type"`
}

type UploadService interface {
	Upload(ctx context.Context, userID, fileName, contentType string, body io.Reader) (*UploadResult, error)
}

type uploadService struct {
	uploader MediaUploader
	clock    clock.Clock
	log      logger.Logger
}

func NewUploadService(uploader MediaUploader, clk clock.Clock, log logger.Logger) UploadService {
	return &uploadService{
		uploader: uploader,
		clock:    clk,
		log:      log,
	}
}

func (s *uploadService) Upload(ctx context.Context, userID, fileName, contentType string, body io.Reader) (*UploadResult, error) {
	msgType, ok := MessageTypeForContent(contentType)
	if !ok {
		return nil, apperrors.ErrBadRequest
	}

	key := storage.ObjectKey(userID, fileName, s.clock.Now())
	url, err := s.uploader.Upload(ctx, key, contentType, body)
	if err != nil {
		return nil, err
	}

	s.log.Debug("Media uploaded", "user_id", userID, "key", key, "type", msgType)
	return &UploadResult{URL: url, Type: msgType}, nil
}

// MessageTypeForContent сопоставляет MIME-тип вложения типу сообщения
func MessageTypeForContent(contentType string) (domain.MessageType, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return domain.MessageTypeImage, true
	case strings.HasPrefix(ct, "video/"):
		return domain.MessageTypeVideo, true
	case strings.HasPrefix(ct, "audio/"):
		return domain.MessageTypeVoice, true
	}
	return "", false
}

package service

import (
	"context"
	"errors"

	"github.com/livekit/protocol/auth"

	"social_chat/internal/config"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// MediaService выдает токены медиасервера. Имя комнаты медиасервера совпадает
// с id звонка (channelName) или id голосовой комнаты.
type MediaService interface {
	CallToken(ctx context.Context, callID, userID, displayName string) (string, string, error)
	RoomToken(ctx context.Context, communityID, roomID, userID, displayName string) (string, string, error)
}

type mediaService struct {
	callRepo repository.CallRepository
	roomRepo repository.VoiceRoomRepository
	cfg      config.LiveKitConfig
	log      logger.Logger
}

func NewMediaService(callRepo repository.CallRepository, roomRepo repository.VoiceRoomRepository, cfg config.LiveKitConfig, log logger.Logger) MediaService {
	return &mediaService{
		callRepo: callRepo,
		roomRepo: roomRepo,
		cfg:      cfg,
		log:      log,
	}
}

func (s *mediaService) CallToken(ctx context.Context, callID, userID, displayName string) (string, string, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return "", "", err
	}
	if call.Status.IsTerminal() {
		return "", "", apperrors.ErrInvalidTransition
	}
	if !call.Involves(userID) {
		return "", "", apperrors.ErrNotParticipant
	}

	token, err := s.token(call.ChannelName, userID, displayName, true)
	if err != nil {
		return "", "", err
	}
	return token, s.cfg.URL, nil
}

// RoomToken - слушатели без микрофона тоже получают токен, но публикуют только участники
func (s *mediaService) RoomToken(ctx context.Context, communityID, roomID, userID, displayName string) (string, string, error) {
	room, err := s.roomRepo.GetByID(ctx, communityID, roomID)
	if err != nil {
		return "", "", err
	}

	token, err := s.token(room.ID, userID, displayName, room.HasParticipant(userID))
	if err != nil {
		return "", "", err
	}
	return token, s.cfg.URL, nil
}

func (s *mediaService) token(roomName, userID, displayName string, canPublish bool) (string, error) {
	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret)
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.AddGrant(grant).
		SetIdentity(userID).
		SetName(displayName).
		SetValidFor(s.cfg.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		s.log.Error("Failed to generate LiveKit token", "error", err, "room", roomName)
		return "", errors.New("failed to generate token")
	}
	return token, nil
}

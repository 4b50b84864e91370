package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"resume-intake/internal/config"
	"resume-intake/internal/logger"
)

// Storage aggregates the backends. MySQL is mandatory, the rest are created
// only when configured.
type Storage struct {
	MySQL    *MySQL
	Redis    *Redis
	MinIO    *MinIO
	RabbitMQ *RabbitMQ

	Candidates *CandidateStore
}

// NewStorage connects every configured backend. A MySQL failure is fatal;
// optional backends that are required by other settings are fatal too, the
// rest are logged and skipped.
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	log := logger.Component("storage")

	s := &Storage{}
	var err error

	s.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	s.Candidates = NewCandidateStore(s.MySQL.DB(), WithStoreLogger(logger.Component("candidate_store")))

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedis(&cfg.Redis)
		if err != nil {
			if cfg.Ingest.DedupeByContent {
				s.Close()
				return nil, fmt.Errorf("redis: %w", err)
			}
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
		}
	}

	if cfg.Attachments.Backend == "minio" {
		s.MinIO, err = NewMinIO(ctx, &cfg.MinIO)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, events stay in the outbox")
		}
	}

	logInit(log, s)
	return s, nil
}

func logInit(log zerolog.Logger, s *Storage) {
	log.Info().
		Bool("redis", s.Redis != nil).
		Bool("minio", s.MinIO != nil).
		Bool("rabbitmq", s.RabbitMQ != nil).
		Msg("storage initialized")
}

// Close releases every backend that was opened.
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("close rabbitmq")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Error().Err(err).Msg("close mysql")
		}
	}
}

package service

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

const (
	leaderboardKey          = "gema:leaderboard:xp"
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardService keeps a ranked view of student XP totals.
type LeaderboardService interface {
	Record(ctx context.Context, studentID uint, totalXP int) error
	Top(ctx context.Context, limit int) ([]dto.LeaderboardEntry, error)
	TopInClass(ctx context.Context, classID uint, limit int) ([]dto.LeaderboardEntry, error)
}

type leaderboardService struct {
	repo   repository.XPRepository
	redis  *redis.Client
	logger zerolog.Logger
}

// NewLeaderboardService constructs the leaderboard. A nil redis client serves every read from the database.
func NewLeaderboardService(repo repository.XPRepository, redisClient *redis.Client, logger zerolog.Logger) LeaderboardService {
	return &leaderboardService{
		repo:   repo,
		redis:  redisClient,
		logger: logger.With().Str("component", "leaderboard_service").Logger(),
	}
}

func (s *leaderboardService) Record(ctx context.Context, studentID uint, totalXP int) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.ZAdd(ctx, leaderboardKey, redis.Z{
		Score:  float64(totalXP),
		Member: strconv.FormatUint(uint64(studentID), 10),
	}).Err()
}

func (s *leaderboardService) Top(ctx context.Context, limit int) ([]dto.LeaderboardEntry, error) {
	if limit <= 0 || limit > maxLeaderboardLimit {
		limit = defaultLeaderboardLimit
	}

	if s.redis != nil {
		entries, err := s.fromCache(ctx, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("leaderboard cache read failed, falling back to database")
		}
	}

	rows, err := s.repo.Top(ctx, limit)
	if err != nil {
		return nil, err
	}
	return rankRows(rows), nil
}

// TopInClass always reads the database: the cached set holds no roster data.
func (s *leaderboardService) TopInClass(ctx context.Context, classID uint, limit int) ([]dto.LeaderboardEntry, error) {
	if classID == 0 {
		return s.Top(ctx, limit)
	}
	if limit <= 0 || limit > maxLeaderboardLimit {
		limit = defaultLeaderboardLimit
	}

	rows, err := s.repo.TopInClass(ctx, classID, limit)
	if err != nil {
		return nil, err
	}
	return rankRows(rows), nil
}

func rankRows(rows []models.StudentXP) []dto.LeaderboardEntry {
	entries := make([]dto.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, dto.LeaderboardEntry{
			Rank:      i + 1,
			StudentID: row.StudentID,
			TotalXP:   row.TotalXP,
			Level:     models.LevelFor(row.TotalXP),
		})
	}
	return entries
}

func (s *leaderboardService) fromCache(ctx context.Context, limit int) ([]dto.LeaderboardEntry, error) {
	members, err := s.redis.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]dto.LeaderboardEntry, 0, len(members))
	for i, member := range members {
		raw, ok := member.Member.(string)
		if !ok {
			continue
		}
		studentID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		total := int(member.Score)
		entries = append(entries, dto.LeaderboardEntry{
			Rank:      i + 1,
			StudentID: uint(studentID),
			TotalXP:   total,
			Level:     models.LevelFor(total),
		})
	}
	return entries, nil
}

package service

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

func TestXPLedgerCreditRules(t *testing.T) {
	db := openTestDB(t)
	runner := NewAsyncRunner(0, zerolog.Nop())
	t.Cleanup(runner.Wait)
	svc := NewXPLedgerService(repository.NewXPRepository(db), nil, runner, validator.New(), zerolog.Nop())
	ctx := context.Background()

	balance, err := svc.Balance(ctx, 42)
	require.NoError(t, err)
	require.Zero(t, balance.TotalXP)
	require.Equal(t, 1, balance.Level)

	credited, err := svc.Credit(ctx, dto.XPCreditRequest{StudentID: 42, Amount: 1500, SourceKind: models.XPSourceBonus, Description: "Science fair"})
	require.NoError(t, err)
	require.Equal(t, 1500, credited.TotalXP)
	require.Equal(t, 2, credited.Level)

	_, err = svc.Credit(ctx, dto.XPCreditRequest{StudentID: 42, Amount: -10, SourceKind: models.XPSourceBonus})
	require.ErrorIs(t, err, ErrInvalidXPCredit)

	_, err = svc.Credit(ctx, dto.XPCreditRequest{StudentID: 42, Amount: 10, SourceKind: "gift"})
	require.Error(t, err)

	penalised, err := svc.Credit(ctx, dto.XPCreditRequest{StudentID: 42, Amount: -2000, SourceKind: models.XPSourcePenalty, Description: "Plagiarism"})
	require.NoError(t, err)
	require.Equal(t, -500, penalised.TotalXP)
	require.Equal(t, 1, penalised.Level)

	history, err := svc.History(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	sum, err := repository.NewXPRepository(db).LedgerSum(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, penalised.TotalXP, sum)
}

func TestValidateCreditRequiresStudent(t *testing.T) {
	err := ValidateCredit(models.XPTransaction{Amount: 5, SourceKind: models.XPSourceBonus})
	require.ErrorIs(t, err, ErrInvalidXPCredit)

	require.NoError(t, ValidateCredit(models.XPTransaction{StudentID: 1, Amount: 0, SourceKind: models.XPSourceSubmission}))
}

func TestLeaderboardPrefersRedisAndFallsBack(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewXPRepository(db)
	ctx := context.Background()

	for studentID, amount := range map[uint]int{1: 300, 2: 900, 3: 600} {
		_, err := repo.Credit(ctx, &models.XPTransaction{StudentID: studentID, Amount: amount, SourceKind: models.XPSourceBonus})
		require.NoError(t, err)
	}

	fallback := NewLeaderboardService(repo, nil, zerolog.Nop())
	entries, err := fallback.Top(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint(2), entries[0].StudentID)
	require.Equal(t, 1, entries[0].Rank)
	require.Equal(t, uint(1), entries[2].StudentID)

	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	cached := NewLeaderboardService(repo, redis.NewClient(&redis.Options{Addr: mini.Addr()}), zerolog.Nop())

	// An empty sorted set is served from the database.
	entries, err = cached.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint(2), entries[0].StudentID)

	require.NoError(t, cached.Record(ctx, 8, 2500))
	require.NoError(t, cached.Record(ctx, 9, 100))
	entries, err = cached.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, dto.LeaderboardEntry{Rank: 1, StudentID: 8, TotalXP: 2500, Level: 3}, entries[0])

	mini.Close()
	entries, err = cached.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint(2), entries[0].StudentID)
}

func TestLeaderboardInClassReadsRoster(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewXPRepository(db)
	ctx := context.Background()

	for studentID, amount := range map[uint]int{1: 300, 2: 900, 3: 600} {
		_, err := repo.Credit(ctx, &models.XPTransaction{StudentID: studentID, Amount: amount, SourceKind: models.XPSourceBonus})
		require.NoError(t, err)
	}
	require.NoError(t, db.Create(&[]models.ClassEnrollment{{ClassID: 4, StudentID: 1}, {ClassID: 4, StudentID: 3}}).Error)

	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	board := NewLeaderboardService(repo, redis.NewClient(&redis.Options{Addr: mini.Addr()}), zerolog.Nop())
	require.NoError(t, board.Record(ctx, 2, 900))

	entries, err := board.TopInClass(ctx, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []dto.LeaderboardEntry{
		{Rank: 1, StudentID: 3, TotalXP: 600, Level: 1},
		{Rank: 2, StudentID: 1, TotalXP: 300, Level: 1},
	}, entries)

	global, err := board.TopInClass(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, global, 1)
	require.Equal(t, uint(2), global[0].StudentID)
}

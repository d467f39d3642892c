package models

import (
	"encoding/json"
	"time"
)

// SleepRecord is the canonical sleep body fetched from WHOOP, one row per sleep id.
type SleepRecord struct {
	SleepID     string          `json:"sleepId"`
	WhoopUserID int64           `json:"whoopUserId"`
	Start       *time.Time      `json:"start"`
	End         *time.Time      `json:"end"`
	Raw         json.RawMessage `json:"raw"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// SleepMetrics is what gets settled on-chain for one night.
type SleepMetrics struct {
	Date                 string `json:"date"`
	SleepDurationMinutes int64  `json:"sleepDurationMinutes"`
	EfficiencyPercentage int64  `json:"efficiencyPercentage"`
	SleepCycles          int64  `json:"sleepCycles"`
	DeepSleepMinutes     int64  `json:"deepSleepMinutes"`
	RemSleepMinutes      int64  `json:"remSleepMinutes"`
}

// UserStats is the GET /stats response.
type UserStats struct {
	TokenBalance        float64 `json:"tokenBalance"`
	TotalTokensEarned   float64 `json:"totalTokensEarned"`
	CurrentStreak       int64   `json:"currentStreak"`
	LongestStreak       int64   `json:"longestStreak"`
	TotalSessions       int64   `json:"totalSessions"`
	IsBlockchainEnabled bool    `json:"isBlockchainEnabled"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	WalletAddress     string  `json:"walletAddress"`
	TokenBalance      float64 `json:"tokenBalance"`
	TotalTokensEarned float64 `json:"totalTokensEarned"`
	CurrentStreak     int64   `json:"currentStreak"`
	LongestStreak     int64   `json:"longestStreak"`
	TotalSessions     int64   `json:"totalSessions"`
	Rank              int     `json:"rank"`
}

type Leaderboard struct {
	Users               []LeaderboardEntry `json:"users"`
	IsBlockchainEnabled bool               `json:"isBlockchainEnabled"`
}

// UserRank is the GET /leaderboard/user/:walletAddress response.
type UserRank struct {
	Rank       *int       `json:"rank"`
	TotalUsers int        `json:"totalUsers"`
	UserStats  *UserStats `json:"userStats"`
}

package staking

import (
	"time"

	"github.com/shopspring/decimal"
)

// pointsPrecision is the scale points are rounded to after every accrual step,
// keeping repeated passes deterministic over long holding periods
const pointsPrecision = 8

var hoursPerDay = decimal.NewFromInt(24)

// Config holds the accrual rule constants. There is exactly one copy of the
// formula; the scheduler, the registration path, the claim path and the
// status projection all go through it.
type Config struct {
	// RatePerToken - daily points earned per token held at snapshot
	RatePerToken decimal.Decimal
	// MaxDailyBase - cap on the daily base rate before the NFT boost
	MaxDailyBase decimal.Decimal
	// BonusPerNFT - boost fraction added per companion NFT held
	BonusPerNFT decimal.Decimal
	// NFTBonusCap - number of NFTs counted toward the boost
	NFTBonusCap int64
	// TargetPoints - accrued points needed for free-mint eligibility
	TargetPoints decimal.Decimal
}

// DefaultConfig returns the canonical accrual constants
func DefaultConfig() Config {
	return Config{
		RatePerToken: decimal.RequireFromString("0.0003333"),
		MaxDailyBase: decimal.RequireFromString("234.1"),
		BonusPerNFT:  decimal.RequireFromString("0.005"),
		NFTBonusCap:  50,
		TargetPoints: decimal.NewFromInt(6942),
	}
}

// DailyPoints computes the daily earning rate for a snapshot balance and NFT
// count: the capped base rate times the capped NFT boost.
func (c Config) DailyPoints(snapshot decimal.Decimal, nftCount int64) decimal.Decimal {
	daily := decimal.Min(snapshot.Mul(c.RatePerToken), c.MaxDailyBase)
	units := nftCount
	if units > c.NFTBonusCap {
		units = c.NFTBonusCap
	}
	boost := decimal.NewFromInt(1).Add(c.BonusPerNFT.Mul(decimal.NewFromInt(units)))
	return daily.Mul(boost)
}

// Accrue applies the accrual rules to a record given a fresh chain snapshot.
// Accrual is throttled to whole elapsed hours; calling again within the same
// hour window returns the record unchanged. Dropping below the snapshot
// balance resets points to zero and, pre-claim, revokes eligibility.
func (c Config) Accrue(rec WalletRecord, balance decimal.Decimal, nftCount int64, now time.Time) WalletRecord {
	hours := int64(now.Sub(rec.LastUpdate).Hours())
	if hours < 1 {
		return rec
	}

	if balance.LessThan(rec.SnapshotBalance) {
		// self-custody rule: keep holding your original stake or start over
		rec.AccruedPoints = decimal.Zero
	} else {
		earned := c.DailyPoints(rec.SnapshotBalance, nftCount).
			Mul(decimal.NewFromInt(hours)).
			Div(hoursPerDay)
		rec.AccruedPoints = decimal.Min(c.TargetPoints, rec.AccruedPoints.Add(earned)).Round(pointsPrecision)
	}

	rec.NFTCount = nftCount
	rec.LastUpdate = now
	if !rec.Claimed {
		rec.Eligible = rec.AccruedPoints.GreaterThanOrEqual(c.TargetPoints)
	}
	return rec
}

// ProjectPoints estimates the points a wallet has earned as of now, pro-rating
// the canonical formula past the last persisted accrual. This backs the live
// progress display so it can never drift from what the next pass will persist.
func (c Config) ProjectPoints(rec WalletRecord, now time.Time) decimal.Decimal {
	if rec.Claimed {
		return rec.AccruedPoints
	}
	elapsed := now.Sub(rec.LastUpdate)
	if elapsed <= 0 {
		return rec.AccruedPoints
	}
	earned := c.DailyPoints(rec.SnapshotBalance, rec.NFTCount).
		Mul(decimal.NewFromFloat(elapsed.Hours())).
		Div(hoursPerDay)
	return decimal.Min(c.TargetPoints, rec.AccruedPoints.Add(earned)).Round(pointsPrecision)
}

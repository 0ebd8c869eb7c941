package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// LedgerEntry records one player's completion of one item and the points last awarded for it.
type LedgerEntry struct {
	ID        int64     `db:"id" json:"id"`
	PlayerID  string    `db:"player_id" json:"player_id"`
	ItemName  string    `db:"item_name" json:"item_name"`
	Points    int64     `db:"points" json:"points"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Correction sets a ledger entry to a recomputed point value.
type Correction struct {
	EntryID int64
	Points  int64
}

// Player is a row of the store-backed ranking ledger.
type Player struct {
	PlayerID    string `db:"player_id" json:"player_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Points      int64  `db:"points" json:"points"`
}

func (s *SQLiteStore) AddLedgerEntry(ctx context.Context, playerID, itemName string, points int64) (*LedgerEntry, error) {
	entry := &LedgerEntry{
		PlayerID:  playerID,
		ItemName:  itemName,
		Points:    points,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (player_id, item_name, points, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.PlayerID, entry.ItemName, entry.Points, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add ledger entry %s/%q: %w", playerID, itemName, err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// ListLedgerEntries returns every ledger entry for the given item names.
func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, itemNames []string) ([]LedgerEntry, error) {
	if len(itemNames) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, player_id, item_name, points, created_at FROM ledger_entries
		WHERE item_name IN (?) ORDER BY id`, itemNames)
	if err != nil {
		return nil, fmt.Errorf("build ledger query: %w", err)
	}

	var entries []LedgerEntry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// ApplyCorrections updates all entries in one transaction. Any failure,
// including a missing entry, leaves every entry untouched.
func (s *SQLiteStore) ApplyCorrections(ctx context.Context, corrections []Correction) error {
	if len(corrections) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range corrections {
			res, err := tx.ExecContext(ctx, "UPDATE ledger_entries SET points = ? WHERE id = ?", c.Points, c.EntryID)
			if err != nil {
				return fmt.Errorf("correct ledger entry %d: %w", c.EntryID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("ledger entry %d: %w", c.EntryID, ErrNotFound)
			}
		}
		return nil
	})
}

// ListRecalcCandidates returns owned items whose recorded points may be stale:
// clamped items with an award above highestAbove, whitelisted items, and
// items rarer than rateBelow.
func (s *SQLiteStore) ListRecalcCandidates(ctx context.Context, highestAbove int64, rateBelow float64) ([]ItemDetail, error) {
	var items []ItemDetail
	err := s.db.SelectContext(ctx, &items, "SELECT "+detailColumns+` FROM v_item_data
		WHERE ledger_count > 0
		  AND ((clamp = 1 AND highest_points > ?) OR whitelist = 1 OR completion_rate < ?)
		ORDER BY completion_rate, item_id`, highestAbove, rateBelow)
	if err != nil {
		return nil, fmt.Errorf("list recalc candidates: %w", err)
	}
	return items, nil
}

// DisplayName returns the stored name for a player, or the id itself when unknown.
func (s *SQLiteStore) DisplayName(ctx context.Context, playerID string) (string, error) {
	p, err := s.GetPlayer(ctx, playerID)
	if errors.Is(err, ErrNotFound) {
		return playerID, nil
	}
	if err != nil {
		return "", err
	}
	if p.DisplayName == "" {
		return playerID, nil
	}
	return p.DisplayName, nil
}

// ApplyPointDelta adds delta to a player's ranking total, creating the player if needed.
func (s *SQLiteStore) ApplyPointDelta(ctx context.Context, playerID, displayName string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (player_id, display_name, points, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			points = players.points + excluded.points,
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE players.display_name END,
			updated_at = excluded.updated_at
	`, playerID, displayName, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply point delta %s: %w", playerID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	var p Player
	err := s.db.GetContext(ctx, &p, "SELECT player_id, display_name, points FROM players WHERE player_id = ?", playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", playerID, err)
	}
	return &p, nil
}

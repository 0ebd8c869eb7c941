package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kittyscape/clogpoints/pkg/points"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

// Item is a stored collection log item.
type Item struct {
	ItemID         int64   `db:"item_id" json:"item_id"`
	ItemName       string  `db:"item_name" json:"item_name"`
	PreferredName  string  `db:"preferred_name" json:"preferred_name"`
	CompletionRate float64 `db:"completion_rate" json:"completion_rate"`
	Categories     string  `db:"categories" json:"categories"`
	Whitelist      bool    `db:"whitelist" json:"whitelist"`
}

// CategoryList splits the stored category string.
func (i Item) CategoryList() []string {
	return wiki.SplitCategories(i.Categories)
}

// ItemDetail is an item joined with its clamp state and ledger statistics.
type ItemDetail struct {
	Item
	Clamp         bool  `db:"clamp" json:"clamp"`
	LedgerCount   int64 `db:"ledger_count" json:"ledger_count"`
	HighestPoints int64 `db:"highest_points" json:"highest_points"`
}

// ClampEligible reports whether the clamp ceiling applies to this item.
func (d ItemDetail) ClampEligible() bool {
	return points.ClampEligible(d.Clamp, d.Whitelist)
}

// Category is a category index entry.
type Category struct {
	Category string `db:"category" json:"category"`
	Clamp    bool   `db:"clamp" json:"clamp"`
}

// Store is the persistence interface.
type Store interface {
	UpsertItems(ctx context.Context, records []wiki.Record) error
	RefreshCategoryIndex(ctx context.Context) (int, error)
	IngestRecords(ctx context.Context, records []wiki.Record) (int, error)
	ListRates(ctx context.Context) (map[string]float64, error)
	ListItems(ctx context.Context) ([]Item, error)
	GetItemDetail(ctx context.Context, name string) (*ItemDetail, error)
	ListCategories(ctx context.Context) ([]Category, error)
	SuggestCategories(ctx context.Context, partial string, limit int) ([]string, error)
	SetCategoryClamp(ctx context.Context, category string, clamp bool) error
	SetItemWhitelist(ctx context.Context, itemName string, whitelist bool) error

	AddLedgerEntry(ctx context.Context, playerID, itemName string, points int64) (*LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, itemNames []string) ([]LedgerEntry, error)
	ApplyCorrections(ctx context.Context, corrections []Correction) error
	ListRecalcCandidates(ctx context.Context, highestAbove int64, rateBelow float64) ([]ItemDetail, error)

	DisplayName(ctx context.Context, playerID string) (string, error)
	ApplyPointDelta(ctx context.Context, playerID, displayName string, delta int64) error
	GetPlayer(ctx context.Context, playerID string) (*Player, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; transactions hold the only connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertItems writes a batch of records atomically, keyed by item id.
func (s *SQLiteStore) UpsertItems(ctx context.Context, records []wiki.Record) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return upsertItems(ctx, tx, records)
	})
}

// RefreshCategoryIndex explodes every item's categories into the category
// index and the item_categories relation. Existing clamp flags are kept.
// It returns the number of categories that did not exist before.
func (s *SQLiteStore) RefreshCategoryIndex(ctx context.Context) (int, error) {
	var added int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		added, err = refreshCategoryIndex(ctx, tx)
		return err
	})
	return added, err
}

// IngestRecords upserts the records and refreshes the category index in one transaction.
func (s *SQLiteStore) IngestRecords(ctx context.Context, records []wiki.Record) (int, error) {
	var added int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertItems(ctx, tx, records); err != nil {
			return err
		}
		var err error
		added, err = refreshCategoryIndex(ctx, tx)
		return err
	})
	return added, err
}

func upsertItems(ctx context.Context, tx *sqlx.Tx, records []wiki.Record) error {
	for _, rec := range records {
		// A name that moved to a new id releases the row that held it. The
		// admin's whitelist flag follows the name.
		var whitelist bool
		err := tx.GetContext(ctx, &whitelist,
			"SELECT COALESCE(MAX(whitelist), 0) FROM items WHERE item_name = ?", rec.ItemName)
		if err != nil {
			return fmt.Errorf("read whitelist %q: %w", rec.ItemName, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM items WHERE item_name = ? AND item_id <> ?",
			rec.ItemName, rec.ItemID); err != nil {
			return fmt.Errorf("release item name %q: %w", rec.ItemName, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (item_id, item_name, preferred_name, completion_rate, categories, whitelist)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET
				item_name = excluded.item_name,
				preferred_name = excluded.preferred_name,
				completion_rate = excluded.completion_rate,
				categories = excluded.categories,
				whitelist = excluded.whitelist
		`, rec.ItemID, rec.ItemName, rec.PreferredName, rec.CompletionRate, rec.CategoryString(), whitelist)
		if err != nil {
			return fmt.Errorf("upsert item %d: %w", rec.ItemID, err)
		}
	}
	return nil
}

func refreshCategoryIndex(ctx context.Context, tx *sqlx.Tx) (int, error) {
	var items []struct {
		ItemID     int64  `db:"item_id"`
		Categories string `db:"categories"`
	}
	if err := tx.SelectContext(ctx, &items, "SELECT item_id, categories FROM items ORDER BY item_id"); err != nil {
		return 0, fmt.Errorf("list item categories: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM item_categories"); err != nil {
		return 0, fmt.Errorf("clear item categories: %w", err)
	}

	added := 0
	seen := make(map[string]bool)
	for _, item := range items {
		for _, category := range wiki.SplitCategories(item.Categories) {
			if !seen[category] {
				seen[category] = true
				res, err := tx.ExecContext(ctx,
					"INSERT INTO categories (category) VALUES (?) ON CONFLICT(category) DO NOTHING",
					category)
				if err != nil {
					return 0, fmt.Errorf("insert category %q: %w", category, err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					added++
				}
			}

			if _, err := tx.ExecContext(ctx,
				"INSERT INTO item_categories (item_id, category) VALUES (?, ?) ON CONFLICT DO NOTHING",
				item.ItemID, category); err != nil {
				return 0, fmt.Errorf("link item %d to %q: %w", item.ItemID, category, err)
			}
		}
	}
	return added, nil
}

func (s *SQLiteStore) ListRates(ctx context.Context) (map[string]float64, error) {
	var rows []struct {
		ItemName       string  `db:"item_name"`
		CompletionRate float64 `db:"completion_rate"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT item_name, completion_rate FROM items"); err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}

	rates := make(map[string]float64, len(rows))
	for _, r := range rows {
		rates[r.ItemName] = r.CompletionRate
	}
	return rates, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT item_id, item_name, preferred_name, completion_rate, categories, whitelist
		FROM items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

const detailColumns = `item_id, item_name, preferred_name, completion_rate, categories, whitelist,
	clamp, ledger_count, highest_points`

// GetItemDetail looks an item up by exact name, falling back to the first
// item (by id) whose name contains name.
func (s *SQLiteStore) GetItemDetail(ctx context.Context, name string) (*ItemDetail, error) {
	var d ItemDetail
	err := s.db.GetContext(ctx, &d,
		"SELECT "+detailColumns+" FROM v_item_data WHERE item_name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.GetContext(ctx, &d,
			"SELECT "+detailColumns+` FROM v_item_data
			WHERE item_name LIKE '%' || ? || '%' ESCAPE '\' ORDER BY item_id LIMIT 1`,
			escapeLike(name))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item detail %q: %w", name, err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := s.db.SelectContext(ctx, &cats, "SELECT category, clamp FROM categories ORDER BY category"); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

func (s *SQLiteStore) SuggestCategories(ctx context.Context, partial string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 25
	}
	var cats []string
	err := s.db.SelectContext(ctx, &cats, `
		SELECT category FROM categories
		WHERE category LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY category LIMIT ?`, escapeLike(partial), limit)
	if err != nil {
		return nil, fmt.Errorf("suggest categories: %w", err)
	}
	return cats, nil
}

func (s *SQLiteStore) SetCategoryClamp(ctx context.Context, category string, clamp bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE categories SET clamp = ? WHERE category = ?", clamp, category)
	if err != nil {
		return fmt.Errorf("set clamp %q: %w", category, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %q: %w", category, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SetItemWhitelist(ctx context.Context, itemName string, whitelist bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE items SET whitelist = ? WHERE item_name = ?", whitelist, itemName)
	if err != nil {
		return fmt.Errorf("set whitelist %q: %w", itemName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %q: %w", itemName, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

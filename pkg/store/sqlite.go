// Package store persists the catalog, contacts and FAQ entries in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shopbot/pkg/catalog"
	"shopbot/pkg/logger"
)

// SQLite implements catalog.Store, catalog.ContactStore and catalog.FAQStore.
type SQLite struct {
	db *sql.DB
}

func Open(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.DebugCF("store", "Database opened", map[string]interface{}{
		"path": dbPath,
	})
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		keyword     TEXT NOT NULL,
		synonym     TEXT NOT NULL DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_products_keyword ON products(keyword);

	CREATE TABLE IF NOT EXISTS product_elements (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id  INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		type        TEXT NOT NULL CHECK (type IN ('text', 'image')),
		content     TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		caption     TEXT NOT NULL DEFAULT '',
		position    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_elements_product ON product_elements(product_id, position, id);

	CREATE TABLE IF NOT EXISTS contacts (
		phone             TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		first_message_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faqs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		question    TEXT NOT NULL UNIQUE,
		keywords    TEXT NOT NULL,
		answer      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// FindByKeywordOrName returns the product whose keyword or name equals id
// exactly, or (nil, nil).
func (s *SQLite) FindByKeywordOrName(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, keyword, synonym FROM products WHERE keyword = ? OR name = ? ORDER BY id LIMIT 1`,
		id, id,
	).Scan(&p.ID, &p.Name, &p.Keyword, &p.Synonym)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byProduct, err := s.elements(ctx, `WHERE product_id = ?`, p.ID)
	if err != nil {
		return nil, err
	}
	p.Elements = byProduct[p.ID]
	return &p, nil
}

func (s *SQLite) ListAll(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, keyword, synonym FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Keyword, &p.Synonym); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byProduct, err := s.elements(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Elements = byProduct[products[i].ID]
	}
	return products, nil
}

func (s *SQLite) elements(ctx context.Context, where string, args ...interface{}) (map[int64][]catalog.Element, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, type, content, image_url, caption, position FROM product_elements `+where+` ORDER BY product_id, position, id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]catalog.Element)
	for rows.Next() {
		var el catalog.Element
		var productID int64
		var typ string
		if err := rows.Scan(&el.ID, &productID, &typ, &el.Content, &el.ImageURL, &el.Caption, &el.Order); err != nil {
			return nil, err
		}
		el.Type = catalog.ElementType(typ)
		out[productID] = append(out[productID], el)
	}
	return out, rows.Err()
}

// UpsertProduct inserts p or replaces the product with the same name,
// including all of its elements. It returns the product id.
func (s *SQLite) UpsertProduct(ctx context.Context, p catalog.Product) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO products (name, keyword, synonym) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET keyword = excluded.keyword, synonym = excluded.synonym, updated_at = CURRENT_TIMESTAMP
		 RETURNING id`,
		p.Name, p.Keyword, p.Synonym,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert product %q: %w", p.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_elements WHERE product_id = ?`, id); err != nil {
		return 0, err
	}
	for _, el := range p.Elements {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_elements (product_id, type, content, image_url, caption, position) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(el.Type), el.Content, el.ImageURL, el.Caption, el.Order,
		); err != nil {
			return 0, fmt.Errorf("insert element of %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLite) FindByPhone(ctx context.Context, phone string) (*catalog.Contact, error) {
	var c catalog.Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, name, first_message_at FROM contacts WHERE phone = ?`, phone,
	).Scan(&c.Phone, &c.Name, &c.FirstMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContact inserts c unless the phone already exists. The unique key
// decides between concurrent first messages.
func (s *SQLite) CreateContact(ctx context.Context, c catalog.Contact) (bool, error) {
	if c.FirstMessageAt.IsZero() {
		c.FirstMessageAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (phone, name, first_message_at) VALUES (?, ?, ?) ON CONFLICT(phone) DO NOTHING`,
		c.Phone, c.Name, c.FirstMessageAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) ListContacts(ctx context.Context) ([]catalog.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, name, first_message_at FROM contacts ORDER BY first_message_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Contact
	for rows.Next() {
		var c catalog.Contact
		if err := rows.Scan(&c.Phone, &c.Name, &c.FirstMessageAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) ListFAQs(ctx context.Context) ([]catalog.FAQ, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, keywords, answer FROM faqs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.FAQ
	for rows.Next() {
		var f catalog.FAQ
		if err := rows.Scan(&f.ID, &f.Question, &f.Keywords, &f.Answer); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFAQ inserts f or updates the entry with the same question.
func (s *SQLite) UpsertFAQ(ctx context.Context, f catalog.FAQ) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO faqs (question, keywords, answer) VALUES (?, ?, ?)
		 ON CONFLICT(question) DO UPDATE SET keywords = excluded.keywords, answer = excluded.answer
		 RETURNING id`,
		f.Question, f.Keywords, f.Answer,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert faq %q: %w", f.Question, err)
	}
	return id, nil
}

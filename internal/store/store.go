package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dhlotto/internal/model"
	"dhlotto/internal/store/config"
)

type Store interface {
	// Тиражи: только вставка, множество растет монотонно
	DrawPost(ctx context.Context, draw model.DrawRecord) error
	DrawGet(ctx context.Context, round int) (model.DrawRecord, error)
	DrawGetLatest(ctx context.Context) (model.DrawRecord, error)
	DrawGetRecent(ctx context.Context, limit int) ([]model.DrawRecord, error)
	// Покупки: вставка и единственная мутация - проставление ранга
	PurchasePost(ctx context.Context, purchase model.PurchaseRecord) error
	PurchaseSettle(ctx context.Context, id string, rank int) error
	PurchaseGetUnsettled(ctx context.Context) ([]model.PurchaseRecord, error)
	PurchaseGetSince(ctx context.Context, since time.Time) ([]model.PurchaseRecord, error)
	Close() error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
)

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица тиражей. Строка неизменяема после записи
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS draw_record (" +
			" round INTEGER PRIMARY KEY," +
			" numbers JSONB NOT NULL," +
			" bonus INTEGER NOT NULL," +
			" draw_date DATE" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица покупок. Создается одна строка на билет,
	// после розыгрыша тиража проставляется ранг
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS purchase_record (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" round INTEGER NOT NULL," +
			" slots JSONB NOT NULL," +
			" barcode VARCHAR (40)," +
			" submitted_at TIMESTAMP NOT NULL," +
			" rank INTEGER NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) DrawPost(ctx context.Context, draw model.DrawRecord) error {
	numbers, err := json.Marshal(draw.Numbers)
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"INSERT INTO draw_record (round, numbers, bonus, draw_date)"+
			" VALUES ($1, $2, $3, $4)",
		draw.Round,
		string(numbers),
		draw.Bonus,
		draw.DrawDate)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}

func (store *store) DrawGet(ctx context.Context, round int) (model.DrawRecord, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT round, numbers, bonus, draw_date"+
			" FROM draw_record"+
			" WHERE round = $1",
		round)
	return scanDraw(row)
}

func (store *store) DrawGetLatest(ctx context.Context) (model.DrawRecord, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT round, numbers, bonus, draw_date" +
			" FROM draw_record" +
			" ORDER BY round DESC" +
			" LIMIT 1")
	return scanDraw(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(row rowScanner) (model.DrawRecord, error) {
	var draw model.DrawRecord
	var numbersRaw []byte
	err := row.Scan(&draw.Round, &numbersRaw, &draw.Bonus, &draw.DrawDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.DrawRecord{}, ErrNoRows
		}
		return model.DrawRecord{}, err
	}
	if err := json.Unmarshal(numbersRaw, &draw.Numbers); err != nil {
		return model.DrawRecord{}, err
	}
	return draw, nil
}

func (store *store) DrawGetRecent(ctx context.Context, limit int) ([]model.DrawRecord, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT round, numbers, bonus, draw_date"+
			" FROM draw_record"+
			" ORDER BY round DESC"+
			" LIMIT $1",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var draws []model.DrawRecord
	for rows.Next() {
		draw, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		draws = append(draws, draw)
	}
	return draws, rows.Err()
}

func (store *store) PurchasePost(ctx context.Context, purchase model.PurchaseRecord) error {
	slots, err := json.Marshal(purchase.Slots)
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"INSERT INTO purchase_record (id, round, slots, barcode, submitted_at, rank)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		purchase.ID,
		purchase.Round,
		string(slots),
		purchase.Barcode,
		purchase.SubmittedAt,
		purchase.Rank)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}

func (store *store) PurchaseSettle(ctx context.Context, id string, rank int) error {
	result, err := store.database.ExecContext(ctx,
		"UPDATE purchase_record"+
			" SET rank = $1"+
			" WHERE id = $2",
		rank,
		id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *store) PurchaseGetUnsettled(ctx context.Context) ([]model.PurchaseRecord, error) {
	return store.purchaseQuery(ctx,
		"SELECT id, round, slots, barcode, submitted_at, rank"+
			" FROM purchase_record"+
			" WHERE rank = $1"+
			" ORDER BY round",
		model.RankUnsettled)
}

func (store *store) PurchaseGetSince(ctx context.Context, since time.Time) ([]model.PurchaseRecord, error) {
	return store.purchaseQuery(ctx,
		"SELECT id, round, slots, barcode, submitted_at, rank"+
			" FROM purchase_record"+
			" WHERE submitted_at >= $1"+
			" ORDER BY submitted_at",
		since)
}

func (store *store) purchaseQuery(ctx context.Context, query string, args ...any) ([]model.PurchaseRecord, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []model.PurchaseRecord
	for rows.Next() {
		var purchase model.PurchaseRecord
		var slotsRaw []byte
		err := rows.Scan(&purchase.ID,
			&purchase.Round,
			&slotsRaw,
			&purchase.Barcode,
			&purchase.SubmittedAt,
			&purchase.Rank)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(slotsRaw, &purchase.Slots); err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, rows.Err()
}

package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel 房间变更通知频道，payload 为房间码
const NotifyChannel = "mathrush_rooms"

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code        VARCHAR(16) PRIMARY KEY,
	status      VARCHAR(16) NOT NULL,
	data        JSONB       NOT NULL,
	version     BIGINT      NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS room_players (
	code       VARCHAR(16) NOT NULL,
	uid        VARCHAR(64) NOT NULL,
	data       JSONB       NOT NULL,
	joined_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (code, uid)
);

CREATE INDEX IF NOT EXISTS idx_room_players_joined ON room_players (code, joined_at, uid);
`

// Migrate 建表，可重复执行
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

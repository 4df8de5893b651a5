package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A single block in a SQL database.
type StoredBlock struct {
	Cid  []byte `gorm:"primaryKey"`
	Data []byte
}

// Blockstore on a SQL database (sqlite or postgres) through gorm.
type GormBlockstore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewGormBlockstore(db *gorm.DB) (*GormBlockstore, error) {
	if err := db.AutoMigrate(&StoredBlock{}); err != nil {
		return nil, fmt.Errorf("migrating block table: %w", err)
	}

	return &GormBlockstore{
		db:  db,
		log: slog.Default().With("system", "gormbs"),
	}, nil
}

var _ blockstore.Blockstore = (*GormBlockstore)(nil)

func (bs *GormBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.db.WithContext(ctx).Where("cid = ?", c.Bytes()).Delete(&StoredBlock{}).Error
}

func (bs *GormBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	var count int64
	if err := bs.db.WithContext(ctx).Model(&StoredBlock{}).Where("cid = ?", c.Bytes()).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (bs *GormBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	ctx, span := otel.Tracer("gormbs").Start(ctx, "Get")
	defer span.End()

	var sb StoredBlock
	if err := bs.db.WithContext(ctx).Where("cid = ?", c.Bytes()).Take(&sb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ipld.ErrNotFound{Cid: c}
		}
		return nil, err
	}

	return blockformat.NewBlockWithCid(sb.Data, c)
}

func (bs *GormBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return -1, err
	}
	return len(blk.RawData()), nil
}

func (bs *GormBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	return bs.PutMany(ctx, []blockformat.Block{blk})
}

func (bs *GormBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	ctx, span := otel.Tracer("gormbs").Start(ctx, "PutMany")
	defer span.End()

	if len(blks) == 0 {
		return nil
	}

	rows := make([]StoredBlock, 0, len(blks))
	for _, blk := range blks {
		rows = append(rows, StoredBlock{
			Cid:  blk.Cid().Bytes(),
			Data: blk.RawData(),
		})
	}

	// blocks are content addressed, so an existing row already has the same data
	return bs.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (bs *GormBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	rows, err := bs.db.WithContext(ctx).Model(&StoredBlock{}).Select("cid").Rows()
	if err != nil {
		return nil, err
	}

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				bs.log.Error("scanning block row", "err", err)
				return
			}
			c, err := cid.Cast(raw)
			if err != nil {
				bs.log.Warn("skipping bad block key", "err", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (bs *GormBlockstore) HashOnRead(enabled bool) {

}

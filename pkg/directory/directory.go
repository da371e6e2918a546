package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tokmz/rtguard/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User 用户目录中的记录
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DisplayName string    `gorm:"size:128" json:"display_name"`
	Role        string    `gorm:"size:32;index" json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 表名
func (User) TableName() string {
	return "users"
}

// Directory 基于 gorm 的用户目录
// 同一用户 id 的并发查询合并为一次数据库访问
type Directory struct {
	db    *gorm.DB
	log   logger.Logger
	group singleflight.Group
}

// New 创建用户目录
func New(db *gorm.DB, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNop()
	}
	return &Directory{db: db, log: log.Named("directory")}
}

// AutoMigrate 创建或更新 users 表
func (d *Directory) AutoMigrate(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(&User{})
}

// FindUser 按 id 查找
// 不存在返回 ok=false，数据库故障返回 error
func (d *Directory) FindUser(ctx context.Context, id int64) (*User, bool, error) {
	if id <= 0 {
		return nil, false, nil
	}

	ch := d.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		var u User
		err := d.db.WithContext(context.WithoutCancel(ctx)).Where("id = ?", id).Take(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return (*User)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &u, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			d.log.ErrorContext(ctx, "user lookup failed", zap.Int64("user_id", id), zap.Error(res.Err))
			return nil, false, fmt.Errorf("find user %d: %w", id, res.Err)
		}
		u := res.Val.(*User)
		if u == nil {
			return nil, false, nil
		}
		cp := *u
		return &cp, true, nil
	}
}

// Upsert 按 id 插入或整行更新
func (d *Directory) Upsert(ctx context.Context, u *User) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "active", "updated_at"}),
	}).Create(u).Error
}

// SetActive 启用或停用用户，停用后已建立的连接会在下次会话审计时断开
func (d *Directory) SetActive(ctx context.Context, id int64, active bool) error {
	res := d.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

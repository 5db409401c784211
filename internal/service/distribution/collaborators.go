// Package distribution 分销服务
package distribution

import (
	"context"
	"sync"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
)

// Member 会员信息
type Member struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
}

// MemberDirectory 会员模块
type MemberDirectory interface {
	GetMember(ctx context.Context, memberID int64) (*Member, error)
}

// Goods 商品信息
type Goods struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// GoodsCatalog 商品模块
type GoodsCatalog interface {
	GetGoods(ctx context.Context, goodsID string) (*Goods, error)
}

// StaticMemberDirectory 内存会员目录
type StaticMemberDirectory struct {
	mu      sync.RWMutex
	members map[int64]*Member
}

// NewStaticMemberDirectory 创建内存会员目录
func NewStaticMemberDirectory(members ...*Member) *StaticMemberDirectory {
	d := &StaticMemberDirectory{members: make(map[int64]*Member, len(members))}
	for _, m := range members {
		d.Put(m)
	}
	return d
}

// Put 写入会员
func (d *StaticMemberDirectory) Put(m *Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

// GetMember 获取会员
func (d *StaticMemberDirectory) GetMember(_ context.Context, memberID int64) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[memberID]
	if !ok {
		return nil, errors.ErrMemberNotFound
	}
	copied := *m
	return &copied, nil
}

// TrustedMemberDirectory 信任网关传入的会员ID，不做存在性校验
// 用于会员模块未接入的部署
type TrustedMemberDirectory struct{}

// GetMember 返回只有ID的会员
func (TrustedMemberDirectory) GetMember(_ context.Context, memberID int64) (*Member, error) {
	if memberID <= 0 {
		return nil, errors.ErrMemberNotFound
	}
	return &Member{ID: memberID}, nil
}

// StaticGoodsCatalog 内存商品目录
type StaticGoodsCatalog struct {
	mu    sync.RWMutex
	goods map[string]*Goods
}

// NewStaticGoodsCatalog 创建内存商品目录
func NewStaticGoodsCatalog(goods ...*Goods) *StaticGoodsCatalog {
	c := &StaticGoodsCatalog{goods: make(map[string]*Goods, len(goods))}
	for _, g := range goods {
		c.Put(g)
	}
	return c
}

// Put 写入商品
func (c *StaticGoodsCatalog) Put(g *Goods) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goods[g.ID] = g
}

// GetGoods 获取商品
func (c *StaticGoodsCatalog) GetGoods(_ context.Context, goodsID string) (*Goods, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.goods[goodsID]
	if !ok {
		return nil, errors.ErrGoodsNotFound
	}
	copied := *g
	return &copied, nil
}

package distribution

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/utils"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// 分销码长度和冲突重试次数
const (
	codeLength   = 8
	codeAttempts = 5
)

// DistributorService 分销商服务
type DistributorService struct {
	db              *gorm.DB
	distributorRepo *repository.DistributorRepository
	members         MemberDirectory
	ledger          *CommissionLedger
	now             func() time.Time
	log             *zap.Logger
}

// NewDistributorService 创建分销商服务
func NewDistributorService(
	db *gorm.DB,
	distributorRepo *repository.DistributorRepository,
	members MemberDirectory,
	ledger *CommissionLedger,
	log *zap.Logger,
) *DistributorService {
	if log == nil {
		log = logger.GetLogger()
	}
	return &DistributorService{
		db:              db,
		distributorRepo: distributorRepo,
		members:         members,
		ledger:          ledger,
		now:             time.Now,
		log:             log.Named("distributor"),
	}
}

// SetClock 设置时钟
func (s *DistributorService) SetClock(now func() time.Time) {
	s.now = now
}

// Apply 申请成为分销商
// 被拒绝的申请可以重新提交，其余已有记录返回 ErrDistributorExists
func (s *DistributorService) Apply(ctx context.Context, memberID int64, parentCode string) (*models.Distributor, error) {
	if memberID <= 0 {
		return nil, errors.ErrInvalidInput.WithMessage("会员ID无效")
	}
	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	existing, err := s.distributorRepo.GetByMemberID(ctx, memberID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != models.DistributorStatusRejected {
		return nil, errors.ErrDistributorExists
	}

	var parentID *int64
	level := 1
	if parentCode = strings.TrimSpace(parentCode); parentCode != "" {
		parent, err := s.resolveParent(ctx, parentCode, existing)
		if err != nil {
			return nil, err
		}
		parentID = &parent.ID
		level = parent.Level + 1
		if level > models.MaxLevel {
			level = models.MaxLevel
		}
	}

	if existing != nil {
		return s.reapply(ctx, existing, member, parentID, level)
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		distributor := &models.Distributor{
			MemberID:         memberID,
			DistributionCode: utils.GenerateCode(codeLength),
			ParentID:         parentID,
			Level:            level,
			Status:           models.DistributorStatusPending,
			RealName:         member.Name,
			Mobile:           member.Mobile,
		}
		err := s.distributorRepo.Create(ctx, distributor)
		if err == nil {
			s.log.Info("分销商申请已提交",
				logger.DistributorID(distributor.ID),
				logger.Int64("member_id", memberID),
				logger.Int("level", level))
			return distributor, nil
		}
		if !repository.IsDuplicate(err) {
			return nil, err
		}
		// 会员并发重复申请，或分销码碰撞后重新生成
		if _, lookupErr := s.distributorRepo.GetByMemberID(ctx, memberID); lookupErr == nil {
			return nil, errors.ErrDistributorExists
		}
	}
	return nil, errors.ErrInternal.WithMessage("生成分销码失败")
}

// resolveParent 校验上级分销码
func (s *DistributorService) resolveParent(ctx context.Context, code string, applicant *models.Distributor) (*models.Distributor, error) {
	if !ValidCode(code) {
		return nil, errors.ErrInvalidCode
	}
	parent, err := s.distributorRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if applicant != nil {
		if err := s.checkCycle(ctx, parent, applicant); err != nil {
			return nil, err
		}
	}
	if !parent.IsApproved() {
		return nil, errors.ErrDistributorNotActive.WithMessage("上级分销商未通过审核")
	}
	return parent, nil
}

// checkCycle 上级不能是申请人自己或其下级
func (s *DistributorService) checkCycle(ctx context.Context, parent, applicant *models.Distributor) error {
	if parent.ID == applicant.ID {
		return errors.ErrChainCycle
	}
	ids, err := ancestors(ctx, s.distributorRepo, parent.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == applicant.ID {
			return errors.ErrChainCycle
		}
	}
	return nil
}

func (s *DistributorService) reapply(ctx context.Context, d *models.Distributor, member *Member, parentID *int64, level int) (*models.Distributor, error) {
	ok, err := s.distributorRepo.Transition(ctx, d.ID, models.DistributorStatusRejected, models.DistributorStatusPending,
		map[string]interface{}{
			"parent_id":    parentID,
			"level":        level,
			"real_name":    member.Name,
			"mobile":       member.Mobile,
			"audit_reason": "",
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrDistributorExists
	}
	s.log.Info("分销商重新提交申请", logger.DistributorID(d.ID))
	return s.distributorRepo.GetByID(ctx, d.ID)
}

// Audit 审核分销商申请
// 通过时在同一事务内更新上级的直推数和团队数
func (s *DistributorService) Audit(ctx context.Context, id int64, decision, reason string) (*models.Distributor, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, errors.ErrInvalidDecision
	}
	distributor, err := s.distributorRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if distributor.Status != models.DistributorStatusPending {
		return nil, errors.ErrInvalidState.WithMessage("该申请已处理")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.distributorRepo.WithTx(tx)
		fields := map[string]interface{}{"audit_reason": reason}
		if decision == DecisionApproved {
			fields["approved_at"] = s.now()
		}
		ok, err := repo.Transition(ctx, id, models.DistributorStatusPending, decision, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrInvalidState.WithMessage("该申请已处理")
		}
		if decision != DecisionApproved {
			return nil
		}

		ids, err := ancestors(ctx, repo, id)
		if err != nil && !errors.Is(err, errors.ErrChainCycle) {
			return err
		}
		for i, ancestorID := range ids {
			direct := 0
			if i == 0 {
				direct = 1
			}
			if err := repo.IncrementCounts(ctx, ancestorID, direct, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("分销商申请已审核", logger.DistributorID(id), logger.String("decision", decision))
	return s.distributorRepo.GetByID(ctx, id)
}

// Disable 禁用分销商
func (s *DistributorService) Disable(ctx context.Context, id int64, reason string) (*models.Distributor, error) {
	if _, err := s.distributorRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.distributorRepo.Transition(ctx, id, models.DistributorStatusApproved, models.DistributorStatusDisabled,
		map[string]interface{}{"audit_reason": reason})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrDistributorNotActive
	}
	return s.distributorRepo.GetByID(ctx, id)
}

// GetByID 获取分销商
func (s *DistributorService) GetByID(ctx context.Context, id int64) (*models.Distributor, error) {
	return s.distributorRepo.GetByID(ctx, id)
}

// GetByMemberID 根据会员获取分销商
func (s *DistributorService) GetByMemberID(ctx context.Context, memberID int64) (*models.Distributor, error) {
	return s.distributorRepo.GetByMemberID(ctx, memberID)
}

// List 获取分销商列表
func (s *DistributorService) List(ctx context.Context, offset, limit int, status string) ([]*models.Distributor, int64, error) {
	return s.distributorRepo.List(ctx, offset, limit, status)
}

// Summary 获取佣金汇总
func (s *DistributorService) Summary(ctx context.Context, id int64) (*CommissionSummary, error) {
	return s.ledger.Summary(ctx, id)
}

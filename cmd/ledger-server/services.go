package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/crypto"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/repository"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
)

// services 进程内共享的业务服务
type services struct {
	distributor *distribution.DistributorService
	withdrawal  *distribution.WithdrawalWorkflow
	rules       *distribution.CommissionRuleEngine
	attribution *distribution.OrderAttributionService
	refund      *distribution.RefundReversalService
	maintenance *distribution.MaintenanceService
}

// newServices 组装仓储和服务
func newServices(
	cfg *config.Config,
	db *gorm.DB,
	redisClient *redis.Client,
	m *metrics.Metrics,
	log *zap.Logger,
) (*services, error) {
	cipher, err := crypto.NewAES(cfg.Crypto.AESKey)
	if err != nil {
		return nil, fmt.Errorf("init bank info cipher: %w", err)
	}
	dist := &cfg.Distribution

	// 初始化仓储
	distributorRepo := repository.NewDistributorRepository(db)
	ruleRepo := repository.NewCommissionRuleRepository(db)
	entryRepo := repository.NewLedgerEntryRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)

	// 初始化服务
	ledger := distribution.NewCommissionLedger(db, distributorRepo, entryRepo, dist, m, log)
	chains := distribution.NewChainResolver(distributorRepo, m, log)
	rules := distribution.NewCommissionRuleEngine(ruleRepo, redisClient, dist.RuleCacheDuration(), m, log)

	return &services{
		distributor: distribution.NewDistributorService(db, distributorRepo, distribution.TrustedMemberDirectory{}, ledger, log),
		withdrawal:  distribution.NewWithdrawalWorkflow(db, distributorRepo, withdrawalRepo, cipher, dist, m, log),
		rules:       rules,
		attribution: distribution.NewOrderAttributionService(db, entryRepo, chains, rules, dist.BatchSize, m, log),
		refund:      distribution.NewRefundReversalService(entryRepo, ledger, log),
		maintenance: distribution.NewMaintenanceService(distributorRepo, entryRepo, ledger, rules, dist.SettleDelay(), dist.BatchSize, log),
	}, nil
}

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/crypto"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
	"github.com/dumeirei/commission-ledger/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	db           *gorm.DB
	router       *gin.Engine
	distributors *repository.DistributorRepository
	members      *distribution.StaticMemberDirectory
	service      *distribution.DistributorService
	withdraw     *distribution.WithdrawalWorkflow
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := config.Default().Distribution
	cipher, err := crypto.NewAES("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	log := zap.NewNop()
	distributorRepo := repository.NewDistributorRepository(db)
	entryRepo := repository.NewLedgerEntryRepository(db)
	members := distribution.NewStaticMemberDirectory()
	ledger := distribution.NewCommissionLedger(db, distributorRepo, entryRepo, &cfg, nil, log)
	rules := distribution.NewCommissionRuleEngine(repository.NewCommissionRuleRepository(db), nil, 0, nil, log)
	rules.SetGoodsCatalog(distribution.NewStaticGoodsCatalog(&distribution.Goods{ID: "G1", Name: "会员月卡"}))

	e := &testEnv{
		db:           db,
		distributors: distributorRepo,
		members:      members,
		service:      distribution.NewDistributorService(db, distributorRepo, members, ledger, log),
		withdraw:     distribution.NewWithdrawalWorkflow(db, distributorRepo, repository.NewWithdrawalRepository(db), cipher, &cfg, nil, log),
	}
	e.router = gin.New()
	NewDistributionHandler(e.service, e.withdraw, rules).RegisterRoutes(e.router.Group("/api/v1"))
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestDistributionHandler_AuditDistributor(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.members.Put(&distribution.Member{ID: 10, Name: "王五"})
	d, err := e.service.Apply(ctx, 10, "")
	require.NoError(t, err)
	path := fmt.Sprintf("/api/v1/admin/distributors/%d/audit", d.ID)

	_, resp := e.do(t, http.MethodPost, path, AuditRequest{Decision: "maybe"})
	assert.Equal(t, 1001, resp.Code)

	_, resp = e.do(t, http.MethodPost, path, AuditRequest{Decision: distribution.DecisionApproved})
	require.Equal(t, 0, resp.Code, resp.Message)
	var got models.Distributor
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, models.DistributorStatusApproved, got.Status)

	// 重复审核
	_, resp = e.do(t, http.MethodPost, path, AuditRequest{Decision: distribution.DecisionRejected})
	assert.Equal(t, 1011, resp.Code)

	status, _ := e.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	_, resp = e.do(t, http.MethodGet, "/api/v1/admin/distributors?status=approved", nil)
	require.Equal(t, 0, resp.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	_, resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/distributors/%d/disable", d.ID), nil)
	require.Equal(t, 0, resp.Code, resp.Message)
	_, resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/distributors/%d/disable", d.ID), DisableRequest{Reason: "违规"})
	assert.Equal(t, 1011, resp.Code)
}

func TestDistributionHandler_Withdrawals(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := &models.Distributor{MemberID: 1, DistributionCode: "AAAAAAAA", Level: 1, Status: models.DistributorStatusApproved}
	require.NoError(t, e.distributors.Create(ctx, d))
	d.Available = money.MustParse("1000")
	d.TotalCommission = d.Available
	require.NoError(t, e.distributors.SaveBalances(ctx, d))

	w, err := e.withdraw.Apply(ctx, d.ID, money.MustParse("100"), &distribution.BankInfo{
		Method: "bank", AccountName: "张三", AccountNo: "6222021234565678", BankName: "工商银行",
	})
	require.NoError(t, err)
	base := fmt.Sprintf("/api/v1/admin/withdrawals/%d", w.ID)

	_, resp := e.do(t, http.MethodGet, base, nil)
	require.Equal(t, 0, resp.Code)
	var detail struct {
		BankInfo string `json:"bank_info"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, "bank 张* 工商银行 6222 **** **** 5678", detail.BankInfo)

	_, resp = e.do(t, http.MethodGet, "/api/v1/admin/withdrawals?withdrawal_no="+w.WithdrawalNo, nil)
	require.Equal(t, 0, resp.Code, resp.Message)
	var byNo struct {
		Withdrawal models.CashWithdrawal `json:"withdrawal"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &byNo))
	assert.Equal(t, w.ID, byNo.Withdrawal.ID)

	_, resp = e.do(t, http.MethodGet, "/api/v1/admin/withdrawals?withdrawal_no=W404", nil)
	assert.Equal(t, 1002, resp.Code)
	_, resp = e.do(t, http.MethodGet, "/api/v1/admin/withdrawals", nil)
	assert.Equal(t, 1001, resp.Code)

	// 未审核不能打款
	_, resp = e.do(t, http.MethodPost, base+"/complete", CompleteRequest{TransactionRef: "TX1"})
	assert.Equal(t, 1011, resp.Code)

	_, resp = e.do(t, http.MethodPost, base+"/audit", AuditRequest{Decision: distribution.DecisionApproved, OperatorID: 9})
	require.Equal(t, 0, resp.Code, resp.Message)

	_, resp = e.do(t, http.MethodPost, base+"/complete", CompleteRequest{TransactionRef: "TX1"})
	require.Equal(t, 0, resp.Code, resp.Message)
	var done models.CashWithdrawal
	require.NoError(t, json.Unmarshal(resp.Data, &done))
	assert.Equal(t, models.WithdrawalStatusCompleted, done.Status)
	assert.Equal(t, "TX1", done.TransactionRef)

	_, resp = e.do(t, http.MethodGet, "/api/v1/admin/withdrawals/404", nil)
	assert.Equal(t, 1002, resp.Code)
}

func TestDistributionHandler_Rules(t *testing.T) {
	e := setup(t)

	body := map[string]interface{}{
		"goods_id":        "G1",
		"commission_type": "percentage",
		"level1_rate":     "10",
		"level2_rate":     "5",
		"level3_rate":     "2",
	}
	_, resp := e.do(t, http.MethodPost, "/api/v1/admin/commission-rules", body)
	require.Equal(t, 0, resp.Code, resp.Message)
	var rule models.CommissionRule
	require.NoError(t, json.Unmarshal(resp.Data, &rule))
	assert.Equal(t, "会员月卡", rule.GoodsName)

	body["level1_rate"] = "12"
	_, resp = e.do(t, http.MethodPut, fmt.Sprintf("/api/v1/admin/commission-rules/%d", rule.ID), body)
	require.Equal(t, 0, resp.Code, resp.Message)

	_, resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/commission-rules/%d/deactivate", rule.ID), nil)
	require.Equal(t, 0, resp.Code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &rule))
	assert.Equal(t, models.RuleStatusInactive, rule.Status)

	// 未知商品
	body["goods_id"] = "G404"
	_, resp = e.do(t, http.MethodPost, "/api/v1/admin/commission-rules", body)
	assert.Equal(t, 1002, resp.Code)

	status, _ := e.do(t, http.MethodPost, "/api/v1/admin/commission-rules", map[string]string{"goods_id": "G1", "commission_type": "tiered"})
	assert.Equal(t, http.StatusBadRequest, status)
}

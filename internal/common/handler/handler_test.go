package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func createTestContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	t.Run("无错误", func(t *testing.T) {
		c, w := createTestContext("/")
		assert.False(t, HandleError(c, nil))
		assert.Equal(t, 0, w.Body.Len())
	})

	t.Run("业务错误", func(t *testing.T) {
		c, w := createTestContext("/")
		assert.True(t, HandleError(c, errors.ErrAvailableInsufficient))
		assert.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		assert.Equal(t, 3006, resp.Code)
		assert.Equal(t, "可提现余额不足", resp.Message)
	})

	t.Run("包装后的业务错误", func(t *testing.T) {
		c, w := createTestContext("/")
		HandleError(c, errors.ErrEntryStatus.WithError(stderrors.New("cancelled")))
		assert.Equal(t, 1011, parseResponse(t, w).Code)
	})

	t.Run("普通错误转为内部错误", func(t *testing.T) {
		c, w := createTestContext("/")
		assert.True(t, HandleError(c, stderrors.New("pq: connection refused")))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := parseResponse(t, w)
		assert.NotContains(t, resp.Message, "pq")
	})
}

func TestMustSucceed(t *testing.T) {
	c, w := createTestContext("/")
	MustSucceed(c, nil, gin.H{"id": 1})
	assert.Equal(t, 0, parseResponse(t, w).Code)

	c, w = createTestContext("/")
	MustSucceed(c, errors.ErrDistributorNotFound, nil)
	assert.Equal(t, 1002, parseResponse(t, w).Code)
}

func TestMustSucceedPage(t *testing.T) {
	c, w := createTestContext("/")
	MustSucceedPage(c, nil, []string{"a"}, 1, 1, 10)
	resp := parseResponse(t, w)
	assert.Equal(t, float64(1), resp.Data.(map[string]interface{})["total"])
}

func TestBindJSON(t *testing.T) {
	type req struct {
		MemberID int64 `json:"member_id" binding:"required"`
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"member_id":7}`))
	c.Request.Header.Set("Content-Type", "application/json")
	var r req
	assert.True(t, BindJSON(c, &r))
	assert.Equal(t, int64(7), r.MemberID)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	c.Request.Header.Set("Content-Type", "application/json")
	assert.False(t, BindJSON(c, &r))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseID(t *testing.T) {
	tests := []struct {
		value string
		want  int64
		ok    bool
	}{
		{"12", 12, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c, w := createTestContext("/")
			c.Params = gin.Params{{Key: "id", Value: tt.value}}
			id, ok := ParseID(c, "分销商")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
			if !ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestBindPagination(t *testing.T) {
	tests := []struct {
		query    string
		page     int
		pageSize int
	}{
		{"/", 1, 10},
		{"/?page=3&page_size=20", 3, 20},
		{"/?page=-1&page_size=0", 1, 10},
		{"/?page_size=500", 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := createTestContext(tt.query)
			p := BindPagination(c)
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.pageSize, p.PageSize)
		})
	}

	assert.Equal(t, 20, Pagination{Page: 3, PageSize: 10}.Offset())
}

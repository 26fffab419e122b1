package api

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/chain"
	"github.com/betbot/sealedsale/internal/domain"
	"github.com/betbot/sealedsale/internal/services"
	"github.com/betbot/sealedsale/pkg/units"
)

// errBadRequest 请求本身不合法（地址、金额格式等）
var errBadRequest = errors.New("bad request")

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind,omitempty"`
	Code  string      `json:"code,omitempty"`
}

func statusFor(err error) int {
	kind, _ := domain.KindOf(err)
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindWrongAmount:
		return http.StatusUnprocessableEntity
	case domain.KindAlreadyDone:
		return http.StatusConflict
	case domain.KindWindowViolation:
		return http.StatusPreconditionFailed
	case domain.KindUnknownParty:
		return http.StatusNotFound
	case domain.KindTransferFailed:
		return http.StatusFailedDependency
	}
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRPCDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind, code := domain.KindOf(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Errorf("%s %s 处理失败", c.Request.Method, c.FullPath())
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Kind: kind, Code: code})
}

func writeReceipt(c *gin.Context, rcpt *chain.Receipt, extra gin.H) {
	body := gin.H{
		"tx_hash": rcpt.TxHash.Hex(),
		"block":   rcpt.Block,
		"events":  rcpt.Events,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func badRequest(format string, args ...interface{}) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func pathAddress(c *gin.Context, name string) (common.Address, error) {
	return parseAddress(name, c.Param(name))
}

// callerOf 从认证头读取调用方
func callerOf(c *gin.Context) (common.Address, error) {
	v := c.GetHeader(CallerHeader)
	if strings.TrimSpace(v) == "" {
		return common.Address{}, badRequest("missing %s header", CallerHeader)
	}
	return parseAddress(CallerHeader, v)
}

// parseValue 附带的以太（十进制字符串，单位 ether）；空串视为 0
func parseValue(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	v, err := units.ParseEther(s)
	if err != nil {
		return nil, badRequest("value: %v", err)
	}
	return v, nil
}

// parseBaseUnits 代币最小单位整数（十进制字符串）
func parseBaseUnits(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest("%s: invalid integer amount %q", field, s)
	}
	return v, nil
}

func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return badRequest("invalid json body: %v", err)
	}
	return nil
}

// bindOptionalJSON 允许空请求体
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return bindJSON(c, dst)
}

// valueRequest 只携带附带以太的请求体
type valueRequest struct {
	Value string `json:"value"`
}

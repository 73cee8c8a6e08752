package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/adshao/go-binance/v2/common"
	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrConnectivity 表示网络、超时或限频等暂时性故障，读操作可以重试。
	ErrConnectivity = errors.New("exchange unreachable")
	// ErrOrderRejected 表示交易所拒绝了委托或账户设置请求。
	ErrOrderRejected = errors.New("exchange rejected request")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrConnectivity)
}

// classifyCCXT 将 ccxt 错误归类为包内哨兵错误，第二个返回值表示是否可重试。
func classifyCCXT(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return wrapSentinel(ErrConnectivity, err), true
		case ccxt.OnMaintenanceErrType:
			return wrapSentinel(ErrMaintenance, err), false
		default:
			return wrapSentinel(ErrOrderRejected, err), false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrapSentinel(ErrConnectivity, err), true
	}

	return err, false
}

// classifyBinance 按 Binance 兼容错误码归类，Aster 沿用同一套错误码。
func classifyBinance(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1000, -1001, -1003, -1006, -1007, -1008, -1021:
			return wrapSentinel(ErrConnectivity, err), true
		default:
			return wrapSentinel(ErrOrderRejected, err), false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrapSentinel(ErrConnectivity, err), true
	}

	// 非 API 错误一般来自传输层或响应解析
	return wrapSentinel(ErrConnectivity, err), true
}

// apiErrorCode 返回 Binance 兼容错误码，非 API 错误返回 0。
func apiErrorCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func wrapSentinel(kind, cause error) error {
	if errors.Is(cause, kind) {
		return cause
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

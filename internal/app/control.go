package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"asterbot/internal/monitor"
)

// mountControl 在监控服务上注册运行状态、当前持仓与手动平仓接口。
func (h *Handle) mountControl(server *monitor.Server) {
	server.HandleFunc("/status", h.handleStatus)
	server.HandleFunc("/positions", h.handlePositions)
	server.HandleFunc("/positions/close", h.handleClose)
}

func (h *Handle) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Status())
}

func (h *Handle) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.Positions())
}

// handleClose 平掉 symbol 参数指定的交易对，可重复或逗号分隔，缺省时平掉全部。
func (h *Handle) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var symbols []string
	for _, raw := range r.URL.Query()["symbol"] {
		for _, symbol := range strings.Split(raw, ",") {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				continue
			}
			if _, ok := h.sched.machines[symbol]; !ok {
				http.Error(w, "unknown symbol "+symbol, http.StatusBadRequest)
				return
			}
			symbols = append(symbols, symbol)
		}
	}

	if err := h.ClosePositions(r.Context(), symbols...); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		h.sched.logger.Warn("手动平仓失败", zap.Strings("symbols", symbols), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	h.sched.logger.Info("手动平仓完成", zap.Strings("symbols", symbols))
	h.writeJSON(w, http.StatusOK, h.Positions())
}

func (h *Handle) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.sched.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

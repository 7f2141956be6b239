// internal/service/seckill/interfaces/ws_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

type stockUpdate struct {
	SKUID     string `json:"sku_id"`
	Remaining int64  `json:"remaining"`
	Timestamp int64  `json:"ts"`
}

// StockFeedHub 给活动页推送实时余量。
// 按固定间隔轮询缓存计数器，只推送给订阅了对应 SKU 的连接；
// 余量只用于展示，真正的判定永远在扣减脚本里。
type StockFeedHub struct {
	script   port.DeductionScript
	interval time.Duration

	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]struct{} // SKU -> 订阅连接
}

func NewStockFeedHub(script port.DeductionScript, interval time.Duration) *StockFeedHub {
	return &StockFeedHub{
		script:   script,
		interval: interval,
		subs:     make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Run 启动广播循环，直到 ctx 取消。
func (h *StockFeedHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.broadcast(ctx)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *StockFeedHub) broadcast(ctx context.Context) {
	h.mu.RLock()
	skus := make([]string, 0, len(h.subs))
	for sku := range h.subs {
		skus = append(skus, sku)
	}
	h.mu.RUnlock()

	now := time.Now().Unix()
	for _, sku := range skus {
		remaining, err := h.script.Remaining(ctx, sku)
		if err != nil {
			if errors.Is(err, domain.ErrNotWarmedUp) {
				continue // 活动未预热或已下线，没有可推的数字
			}
			logger.Ctx(ctx).Warn().Err(err).Str("sku_id", sku).Msg("Failed to read stock for feed")
			continue
		}
		payload, err := json.Marshal(stockUpdate{SKUID: sku, Remaining: remaining, Timestamp: now})
		if err != nil {
			continue
		}
		h.push(sku, payload)
	}
}

func (h *StockFeedHub) push(sku string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs[sku] {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			// 写失败视为连接已死，移除并关闭
			delete(h.subs[sku], conn)
			conn.Close()
		}
	}
	if len(h.subs[sku]) == 0 {
		delete(h.subs, sku)
	}
}

func (h *StockFeedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sku, conns := range h.subs {
		for conn := range conns {
			conn.Close()
		}
		delete(h.subs, sku)
	}
}

func (h *StockFeedHub) subscribe(sku string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sku] == nil {
		h.subs[sku] = make(map[*websocket.Conn]struct{})
	}
	h.subs[sku][conn] = struct{}{}
}

func (h *StockFeedHub) unsubscribe(sku string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subs[sku]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, sku)
		}
	}
	conn.Close()
}

// ServeWS 把 HTTP 连接升级为 WebSocket 并订阅指定 SKU 的余量推送。
func (h *StockFeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sku := r.URL.Query().Get("sku_id")
	if sku == "" {
		http.Error(w, "sku_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.subscribe(sku, conn)

	// 读循环只为感知断连，客户端不需要上行任何数据
	go func() {
		defer h.unsubscribe(sku, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *StockFeedHub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/stock", h.ServeWS)
}

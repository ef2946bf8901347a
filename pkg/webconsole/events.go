package webconsole

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/lomehong/pluginkit/pkg/hooks"
)

// eventPriority 事件流处理器排在最后，观察管道的最终结果
const eventPriority = 1000

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Event 推送给控制台客户端的钩子事件
type Event struct {
	Hook string    `json:"hook"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan Event
}

// eventHub 将钩子事件广播给所有websocket客户端
type eventHub struct {
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*eventClient]struct{}

	regs map[string]string // hook -> registration id
}

func newEventHub(logger hclog.Logger) *eventHub {
	return &eventHub{
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*eventClient]struct{}),
		regs:    make(map[string]string),
	}
}

// attach 在names上注册只观察不修改的处理器
func (h *eventHub) attach(d *hooks.Dispatcher, names []string) {
	for _, name := range names {
		hookName := name
		id := d.Register(hookName, func(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
			h.publish(Event{Hook: hookName, Time: time.Now(), Data: data})
			return data, nil
		}, hooks.WithPriority(eventPriority), hooks.WithOwner("webconsole"))
		h.regs[hookName] = id
	}
}

// detach 注销attach注册的处理器
func (h *eventHub) detach(d *hooks.Dispatcher) {
	for name, id := range h.regs {
		d.Unregister(name, id)
	}
	h.regs = make(map[string]string)
}

func (h *eventHub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("客户端消费过慢，丢弃事件", "hook", ev.Hook, "remote", c.conn.RemoteAddr().String())
		}
	}
}

func (h *eventHub) add(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// clientCount 当前连接数
func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll 断开所有客户端
func (h *eventHub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*eventClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

// serve 升级为websocket并推送事件，客户端发送的消息被忽略
func (h *eventHub) serve(ctx *gin.Context) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.logger.Warn("websocket升级失败", "error", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan Event, eventBuffer)}
	h.add(client)
	h.logger.Debug("事件客户端已连接", "remote", conn.RemoteAddr().String())

	go func() {
		for ev := range client.send {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("推送事件失败", "error", err)
				conn.Close()
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
	h.logger.Debug("事件客户端已断开", "remote", conn.RemoteAddr().String())
}

package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const clientBuffer = 10

// Hub fans live messages out to browser WebSocket clients. Each client has
// its own writer goroutine; a client whose buffer is full is dropped.
type Hub struct {
	logger  logrus.FieldLogger
	clients map[*websocket.Conn]chan []byte
	lock    sync.RWMutex
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		logger:  logger.WithField("module", "websocket"),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("no se pudo actualizar la conexión")
		return
	}

	ch := make(chan []byte, clientBuffer)
	h.lock.Lock()
	h.clients[conn] = ch
	clientCount := len(h.clients)
	h.lock.Unlock()

	h.logger.WithField("clients", clientCount).Info("cliente conectado")

	go h.writeLoop(conn, ch)
	go h.readLoop(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan []byte) {
	defer func() {
		_ = conn.Close()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.WithError(err).Warn("error al escribir mensaje")
			h.remove(conn)
			return
		}
	}
}

// readLoop only exists to notice closed connections.
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	ch, ok := h.clients[conn]
	if ok {
		close(ch)
		delete(h.clients, conn)
	}
	remaining := len(h.clients)
	h.lock.Unlock()

	if ok {
		h.logger.WithField("clients", remaining).Info("cliente desconectado")
	}
}

func (h *Hub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	var slow []*websocket.Conn
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		close(h.clients[conn])
		delete(h.clients, conn)
	}

	if len(slow) > 0 {
		h.logger.WithFields(logrus.Fields{
			"removed": len(slow),
			"clients": len(h.clients),
		}).Warn("clientes lentos eliminados")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	for conn, ch := range h.clients {
		close(ch)
		delete(h.clients, conn)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/omr/internal/pipeline"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketMessage is sent by the server for every batch event.
//
// Status is "processing" when a batch starts, "progress" once per graded
// sheet, "completed" at the end and "error" for rejected requests.
type WebSocketMessage struct {
	Type      string                  `json:"type"`
	Status    string                  `json:"status"`
	RequestID string                  `json:"request_id,omitempty"`
	Done      int                     `json:"done,omitempty"`
	Total     int                     `json:"total,omitempty"`
	Progress  float64                 `json:"progress,omitempty"`
	Result    *pipeline.SheetResult   `json:"result,omitempty"`
	Results   []*pipeline.SheetResult `json:"results,omitempty"`
	Stats     *pipeline.ParallelStats `json:"stats,omitempty"`
	Error     string                  `json:"error,omitempty"`
	ErrorType string                  `json:"error_type,omitempty"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// batchWebSocketHandler grades batches sent over a WebSocket and streams
// one progress message per sheet.
func (s *Server) batchWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeErrorResponse(w, "grading pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.maxUploadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	c := &wsConn{conn: conn}
	client := getClientIP(r)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if kind != websocket.TextMessage {
			continue
		}
		s.handleWebSocketBatch(ctx, c, client, data)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

func (s *Server) handleWebSocketBatch(ctx context.Context, c *wsConn, client string, data []byte) {
	var req BatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(c, "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
		return
	}
	if err := s.validateBatch(&req); err != nil {
		s.sendWebSocketError(c, "invalid_request", err.Error())
		return
	}
	if s.rateLimiter != nil {
		// every batch on an open connection counts as a request
		if err := s.rateLimiter.CheckRateLimit(client, int64(len(data))); err != nil {
			s.sendWebSocketError(c, "rate_limited", err.Error())
			return
		}
	}

	id := strconv.FormatInt(time.Now().UnixNano(), 10)
	progress := &wsProgress{conn: c, requestID: id}
	resp, err := s.runBatch(ctx, &req, progress)
	msg := WebSocketMessage{
		Type:      "batch_response",
		Status:    "completed",
		RequestID: id,
		Done:      len(resp.Results),
		Total:     len(resp.Results),
		Progress:  1,
		Results:   resp.Results,
		Stats:     &resp.Stats,
	}
	if err != nil {
		msg.Status = "error"
		msg.ErrorType = "interrupted"
		msg.Error = err.Error()
	}
	if err := c.send(msg); err != nil {
		slog.Warn("Failed to send WebSocket response", "error", err)
	}
}

// wsProgress streams grading progress to the client.
type wsProgress struct {
	conn      *wsConn
	requestID string
}

func (p *wsProgress) OnStart(total int) {
	_ = p.conn.send(WebSocketMessage{Type: "batch_response", Status: "processing", RequestID: p.requestID, Total: total})
}

func (p *wsProgress) OnSheet(done, total int, res *pipeline.SheetResult) {
	_ = p.conn.send(WebSocketMessage{
		Type:      "batch_response",
		Status:    "progress",
		RequestID: p.requestID,
		Done:      done,
		Total:     total,
		Progress:  float64(done) / float64(total),
		Result:    res,
	})
}

func (p *wsProgress) OnComplete(pipeline.ParallelStats) {}

func (s *Server) sendWebSocketError(c *wsConn, errorType, message string) {
	if err := c.send(WebSocketMessage{Type: "batch_response", Status: "error", ErrorType: errorType, Error: message}); err != nil {
		slog.Warn("Failed to send WebSocket error", "error", err)
	}
}

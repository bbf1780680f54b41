package server

import (
	"net/http"

	"market-gateway/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Session registry
// -----------------------------------------------------------------------------

func (s *Server) handleWebSocket(c *gin.Context) {
	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	session := newSession(s, conn)
	if !s.OnConnect(session) {
		conn.Close()
		return
	}

	s.pumps.Add(2)
	go session.writePump()
	go session.readPump()
}

// -----------------------------------------------------------------------------

// OnConnect registers the session and queues its welcome event.
func (s *Server) OnConnect(session *Session) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.router.OpenSession(session.ID)

	trading := s.status.TradingStatus()
	s.Send(session.ID, models.NewEvent(models.EventWelcome, models.MWelcome{
		SessionID:         session.ID,
		Symbols:           s.catalog.Snapshot(),
		MaxPerClient:      s.Config.Gateway.MaxPerClient,
		TradingStatus:     trading,
		AuthStatus:        trading.AuthStatus,
		UpstreamConnected: s.status.UpstreamConnected(),
	}))

	s.Logger.Info("Session %s connected (%d total)", session.ID, s.SessionCount())
	return true
}

// -----------------------------------------------------------------------------

// OnDisconnect unregisters the session, releases its subscriptions and closes
// its outbound queue. Safe to call more than once.
func (s *Server) OnDisconnect(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		close(session.send)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	delta := s.router.OnSessionDestroyed(sessionID)
	s.Logger.Info("Session %s disconnected (released %d upstream symbols)", sessionID, len(delta.Removed))
}

// -----------------------------------------------------------------------------

// Send queues event for one session without blocking. A full queue evicts the
// session.
func (s *Server) Send(sessionID string, event models.MEvent) bool {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	delivered := false
	if ok {
		delivered = enqueue(session, event)
	}
	s.mu.RUnlock()

	if ok && !delivered {
		s.evict(sessionID)
	}
	return delivered
}

// -----------------------------------------------------------------------------

// Relay queues event for every current subscriber of symbol.
func (s *Server) Relay(symbol string, event models.MEvent) {
	subscribers := s.router.Subscribers(symbol)
	if len(subscribers) == 0 {
		return
	}

	var slow []string
	s.mu.RLock()
	for _, id := range subscribers {
		session, ok := s.sessions[id]
		if ok && !enqueue(session, event) {
			slow = append(slow, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range slow {
		s.evict(id)
	}
}

// -----------------------------------------------------------------------------

func (s *Server) Broadcast(event models.MEvent) {
	var slow []string
	s.mu.RLock()
	for id, session := range s.sessions {
		if !enqueue(session, event) {
			slow = append(slow, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range slow {
		s.evict(id)
	}
}

// -----------------------------------------------------------------------------

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// -----------------------------------------------------------------------------

func (s *Server) evict(sessionID string) {
	s.Logger.Warning("Session %s outbound queue full, evicting", sessionID)
	s.OnDisconnect(sessionID)
}

// -----------------------------------------------------------------------------

func enqueue(session *Session, event models.MEvent) bool {
	select {
	case session.send <- event:
		return true
	default:
		return false
	}
}

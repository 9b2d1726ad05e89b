package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/api"
	"github.com/dgnsrekt/realtime-sync/internal/config"
	"github.com/dgnsrekt/realtime-sync/internal/model"
)

type userKey struct{}

type Server struct {
	broker *Broker
	config *config.ServerConfig
	logger *zap.Logger
}

func NewServer(broker *Broker, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		broker: broker,
		config: cfg,
		logger: logger,
	}
}

type publishResponse struct {
	Queues int `json:"queues"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleRegister implements POST /realtime/register.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	queueID, last := s.broker.Register(userFromContext(r.Context()))
	writeJSON(w, http.StatusOK, api.RegisterResponse{QueueID: queueID, LastEventID: last})
}

// HandlePoll implements GET /realtime/poll?queue_id=&last_event_id=.
func (s *Server) HandlePoll(w http.ResponseWriter, r *http.Request) {
	queueID := r.URL.Query().Get("queue_id")
	if queueID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required 'queue_id' query parameter"})
		return
	}
	lastEventID, err := strconv.ParseInt(r.URL.Query().Get("last_event_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid 'last_event_id' query parameter"})
		return
	}

	events, last, err := s.broker.Poll(r.Context(), userFromContext(r.Context()), queueID, lastEventID, s.config.LongPollTimeout)
	switch {
	case errors.Is(err, ErrQueueNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "queue not found"})
	case errors.Is(err, ErrCatchupRequired):
		writeJSON(w, http.StatusOK, api.PollResponse{CatchupRequired: true, LastEventID: lastEventID})
	case err != nil:
		// Client went away.
		s.logger.Debug("poll aborted", zap.String("queueId", queueID), zap.Error(err))
	default:
		if events == nil {
			events = []model.Event{}
		}
		writeJSON(w, http.StatusOK, api.PollResponse{Events: events, LastEventID: last})
	}
}

// HandleHeartbeat implements POST /realtime/heartbeat.
func (s *Server) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QueueID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"queue_id\": \"...\"}"})
		return
	}
	if err := s.broker.Heartbeat(userFromContext(r.Context()), req.QueueID); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "queue not found"})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// HandlePublish implements POST /realtime/events: one event, or an array of
// events, delivered to every queue.
func (s *Server) HandlePublish(w http.ResponseWriter, r *http.Request) {
	events, err := decodeEvents(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	queues := 0
	for _, ev := range events {
		queues = s.broker.Publish(ev)
	}
	s.logger.Info("events published", zap.Int("events", len(events)), zap.Int("queues", queues))
	writeJSON(w, http.StatusAccepted, publishResponse{Queues: queues})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queues": s.broker.Queues(),
	})
}

// authMiddleware maps the bearer token to a user id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		userID, known := s.config.Tokens[token]
		if !ok || !known {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}

func decodeEvents(r *http.Request) ([]model.Event, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.New("body must be a JSON event or array of events")
	}

	var events []model.Event
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, errors.New("invalid event array")
		}
	} else {
		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, errors.New("invalid event")
		}
		events = []model.Event{ev}
	}

	for i := range events {
		if !events[i].Type.Valid() {
			return nil, errors.New("unknown event type: " + string(events[i].Type))
		}
		if events[i].Timestamp == "" {
			events[i].Timestamp = time.Now().UTC().Format(time.RFC3339)
		}
	}
	return events, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

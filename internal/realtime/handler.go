package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/coachai/coach-backend/internal/transport"
	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
)

const sseKeepAlive = 15 * time.Second

// CallLimiter gates call creation per user.
type CallLimiter interface {
	Allow(key string) bool
}

type Handler struct {
	manager *Manager
	starter transport.SessionStarter
	auth    transport.AuthFunc
	limiter CallLimiter
	log     *slog.Logger
}

type HandlerConfig struct {
	Manager *Manager
	Starter transport.SessionStarter
	Auth    transport.AuthFunc
	Limiter CallLimiter
	Log     *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		manager: cfg.Manager,
		starter: cfg.Starter,
		auth:    cfg.Auth,
		limiter: cfg.Limiter,
		log:     log.With("component", "rtc_handler"),
	}
}

type OfferRequest struct {
	SDP     string                   `json:"sdp"`
	Session *transport.SessionConfig `json:"session,omitempty"`
}

type OfferResponse struct {
	SessionID  string      `json:"session_id"`
	SDP        string      `json:"sdp"`
	ICEServers []ICEServer `json:"ice_servers,omitempty"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICECandidateRequest struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type ICEServersResponse struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/calls", h.HandleOffer)
	g.POST("/calls/:session_id", h.HandleICECandidate)
	g.GET("/calls/:session_id", h.HandleICEStream)
	g.DELETE("/calls/:session_id", h.HandleHangup)
	g.GET("/ice-servers", h.HandleICEServers)
}

func (h *Handler) authenticate(c echo.Context) (*transport.UserProfile, error) {
	if h.auth == nil {
		return nil, shared.Unauthorized("unauthorized", "authentication required")
	}
	profile, err := h.auth(c.Request())
	if err != nil || profile == nil {
		return nil, shared.Unauthorized("unauthorized", "invalid or missing token")
	}
	return profile, nil
}

// ownedSession resolves :session_id and checks it belongs to the caller.
func (h *Handler) ownedSession(c echo.Context) (*Session, error) {
	profile, err := h.authenticate(c)
	if err != nil {
		return nil, err
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		return nil, shared.BadRequest("missing_session_id", "session id is required")
	}

	session, ok := h.manager.GetSession(sessionID)
	if !ok {
		return nil, shared.NotFound("session_not_found", "session not found")
	}
	if session.UserID() != profile.UserID {
		return nil, shared.Forbidden("forbidden", "session access denied")
	}
	return session, nil
}

func (h *Handler) HandleICECandidate(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	var req ICECandidateRequest
	if err := c.Bind(&req); err != nil || req.Candidate == "" {
		return shared.BadRequest("invalid_candidate", "invalid ICE candidate")
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:     req.Candidate,
		SDPMid:        req.SDPMid,
		SDPMLineIndex: req.SDPMLineIndex,
	}

	if err := session.Conn().peer.AddICECandidate(candidate); err != nil {
		h.log.Warn("failed to add ICE candidate", "session_id", session.ID, "error", err)
		return shared.BadRequest("invalid_candidate", "failed to add candidate")
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleICEStream(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(res, ": ping\n\n")
			res.Flush()
		case candidate, ok := <-session.ICECandidates():
			if !ok {
				return nil
			}
			data, err := json.Marshal(candidate)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "event: ice-candidate\ndata: %s\n\n", data)
			res.Flush()
		}
	}
}

func (h *Handler) HandleHangup(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}

	h.manager.RemoveSession(session.ID)
	h.log.Info("call ended by client", "session_id", session.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleICEServers(c echo.Context) error {
	return c.JSON(http.StatusOK, ICEServersResponse{ICEServers: h.iceServersResponse()})
}

func (h *Handler) maxSDPSize() int64 {
	return int64(h.manager.Config().MaxSDPSize)
}

func (h *Handler) iceServersResponse() []ICEServer {
	cfgServers := h.manager.ICEServers()
	servers := make([]ICEServer, 0, len(cfgServers))
	for _, s := range cfgServers {
		servers = append(servers, ICEServer(s))
	}
	return servers
}

func (h *Handler) HandleOffer(c echo.Context) error {
	profile, err := h.authenticate(c)
	if err != nil {
		return err
	}

	if h.limiter != nil && !h.limiter.Allow(profile.UserID) {
		return shared.TooManyRequests("rate_limited", "too many calls, try again later")
	}

	sdp, sessionConfig, rawSDP, err := h.extractRequest(c)
	if errors.Is(err, errOfferTooLarge) {
		return shared.HTTPError(http.StatusRequestEntityTooLarge, "offer_too_large",
			fmt.Sprintf("offer exceeds %d bytes", h.maxSDPSize()))
	}
	if err != nil {
		return shared.BadRequest("invalid_offer", err.Error())
	}
	if sdp == "" {
		return shared.BadRequest("invalid_offer", "missing sdp")
	}

	peer, err := h.manager.NewPeer()
	if err != nil {
		h.log.Error("failed to create peer", "error", err)
		return shared.InternalError("peer_failed", "failed to create peer connection")
	}

	if err := peer.SetOffer(sdp); err != nil {
		peer.Close()
		h.log.Warn("failed to set offer", "error", err)
		return shared.BadRequest("invalid_offer", "failed to process offer")
	}

	conn, err := NewConn(peer, h.manager.Config(), h.log.With("user_id", profile.UserID))
	if err != nil {
		peer.Close()
		h.log.Error("failed to create connection", "error", err)
		return shared.InternalError("conn_failed", "failed to create connection")
	}

	peer.OnDataChannel(conn.SetupDataChannel)

	rtcSession := h.manager.CreateSession(conn, profile.UserID)

	peer.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		rtcSession.SendICE(init)
		if err := conn.SendICECandidate(init); err != nil {
			h.log.Debug("failed to send ICE candidate over data channel", "error", err)
		}
	})

	answer, err := peer.CreateAnswer()
	if err != nil {
		h.manager.RemoveSession(rtcSession.ID)
		h.log.Error("failed to create answer", "error", err)
		return shared.InternalError("answer_failed", "failed to create answer")
	}

	clientIP := c.RealIP()
	if clientIP == "" {
		clientIP = c.Request().RemoteAddr
	}

	err = h.starter.Start(transport.StartRequest{
		SessionID: rtcSession.ID,
		Conn:      conn,
		UserContext: &transport.UserContext{
			UserID: profile.UserID,
			IP:     clientIP,
			Name:   profile.Name,
			Email:  profile.Email,
		},
		Config: sessionConfig,
	})
	if err != nil {
		h.manager.RemoveSession(rtcSession.ID)
		return h.startError(err)
	}

	go func() {
		<-conn.Done()
		h.manager.RemoveSession(rtcSession.ID)
	}()

	h.log.Info("call started", "session_id", rtcSession.ID, "user_id", profile.UserID)

	c.Response().Header().Set("X-Session-Id", rtcSession.ID)
	if rawSDP {
		return c.Blob(http.StatusCreated, "application/sdp", []byte(answer))
	}
	return c.JSON(http.StatusCreated, OfferResponse{
		SessionID:  rtcSession.ID,
		SDP:        answer,
		ICEServers: h.iceServersResponse(),
	})
}

func (h *Handler) startError(err error) error {
	switch {
	case errors.Is(err, shared.ErrConflict):
		return shared.Conflict("session_limit", "an active session already exists")
	case errors.Is(err, shared.ErrNotFound):
		return shared.BadRequest("unknown_scenario", err.Error())
	default:
		h.log.Error("session start failed", "error", err)
		return shared.InternalError("start_failed", "failed to start session")
	}
}

// extractRequest reads the offer from an application/sdp, JSON or multipart
// body. A raw SDP body takes its session settings from query parameters.
func (h *Handler) extractRequest(c echo.Context) (sdp string, cfg *transport.SessionConfig, rawSDP bool, err error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	mediaType, params, _ := mime.ParseMediaType(contentType)
	body := c.Request().Body

	switch mediaType {
	case "application/sdp":
		data, err := h.readLimited(body)
		if err != nil {
			return "", nil, true, err
		}
		return string(data), h.queryConfig(c), true, nil

	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return "", nil, false, errors.New("missing boundary in multipart")
		}
		sdp, cfg, err := h.readMultipart(multipart.NewReader(c.Request().Body, boundary))
		return sdp, cfg, false, err

	case "application/json", "":
		data, err := h.readLimited(body)
		if err != nil {
			return "", nil, false, err
		}
		var req OfferRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return "", nil, false, fmt.Errorf("invalid JSON body: %w", err)
		}
		if req.Session == nil {
			req.Session = h.queryConfig(c)
		}
		return req.SDP, req.Session, false, nil

	default:
		return "", nil, false, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

var errOfferTooLarge = errors.New("offer too large")

// readLimited reads r fully, failing with errOfferTooLarge rather than
// truncating when r holds more than the configured SDP size.
func (h *Handler) readLimited(r io.Reader) ([]byte, error) {
	limit := h.maxSDPSize()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read offer: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errOfferTooLarge
	}
	return data, nil
}

func (h *Handler) readMultipart(reader *multipart.Reader) (string, *transport.SessionConfig, error) {
	var sdp string
	var cfg *transport.SessionConfig

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to read multipart: %w", err)
		}

		data, err := h.readLimited(part)
		if err != nil {
			return "", nil, err
		}

		switch part.FormName() {
		case "sdp":
			sdp = string(data)
		case "session":
			var sc transport.SessionConfig
			if err := json.Unmarshal(data, &sc); err != nil {
				return "", nil, fmt.Errorf("invalid session config: %w", err)
			}
			cfg = &sc
		}
	}

	if sdp == "" {
		return "", nil, errors.New("sdp field not found in multipart")
	}
	return sdp, cfg, nil
}

func (h *Handler) queryConfig(c echo.Context) *transport.SessionConfig {
	cfg := transport.SessionConfig{
		ScenarioID: c.QueryParam("scenario_id"),
		Voice:      c.QueryParam("voice"),
		Language:   c.QueryParam("language"),
		Difficulty: c.QueryParam("difficulty"),
	}
	if cfg == (transport.SessionConfig{}) {
		return nil
	}
	return &cfg
}

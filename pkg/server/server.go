package server

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

// InvalidMessage is sent back for a frame that carries no question
const InvalidMessage = "Please send your question as a non-empty text message."

// Session answers messages of one conversation
type Session interface {
	Send(ctx context.Context, message string) (*chat.Reply, error)
}

// SessionFactory creates a fresh session for a connection or a one-shot request
type SessionFactory func(ctx context.Context) (Session, error)

// Frame is one outbound WebSocket message
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

const (
	FrameAnswer = "answer"
	FrameError  = "error"
)

type Server struct {
	app        *fiber.App
	newSession SessionFactory
	baseCtx    context.Context
}

// New builds the HTTP app. ctx carries the logger and bounds every invocation.
func New(ctx context.Context, newSession SessionFactory) *Server {
	s := &Server{
		newSession: newSession,
		baseCtx:    ctx,
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	app.Use(s.logRequest)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/api/ask", s.handleAsk)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWebSocket))

	s.app = app
	return s
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until ctx is canceled
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("server listening", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			return goerr.Wrap(err, "failed to shut down server")
		}
		return nil
	}
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	logging.From(s.baseCtx).Info("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start))
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if e, ok := err.(*fiber.Error); ok {
		fe = e
		code = fe.Code
	}
	if code >= 500 {
		logging.From(s.baseCtx).Error("request failed", "path", c.Path(), "error", err)
	}

	msg := chat.ApologyMessage
	if fe != nil && code < 500 {
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer     string           `json:"answer"`
	Invocation *chat.Invocation `json:"invocation,omitempty"`
}

func (s *Server) handleAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "question is required")
	}

	ctx := s.baseCtx
	session, err := s.newSession(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to create session")
	}

	reply, err := session.Send(ctx, req.Question)
	if err != nil {
		return goerr.Wrap(err, "failed to answer question")
	}

	return c.JSON(askResponse{Answer: reply.Text, Invocation: reply.Invocation})
}

func (s *Server) handleWebSocket(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	logger := logging.From(ctx).With("remote", conn.RemoteAddr().String())
	ctx = logging.With(ctx, logger)

	logger.Info("websocket connected")
	defer logger.Info("websocket disconnected")

	session, err := s.newSession(ctx)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		_ = conn.WriteJSON(Frame{Type: FrameError, Content: chat.ApologyMessage})
		return
	}

	serveConn(ctx, conn, session)
}

// frameConn is the part of a WebSocket connection the message loop needs
type frameConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
}

// serveConn answers frames one at a time until the peer disconnects. Every
// inbound frame gets exactly one outbound frame.
func serveConn(ctx context.Context, conn frameConn, session Session) {
	logger := logging.From(ctx)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var frame Frame
		question := strings.TrimSpace(string(msg))
		switch {
		case mt != websocket.TextMessage || question == "":
			logger.Debug("rejected websocket frame", "type", mt, "size", len(msg))
			frame = Frame{Type: FrameError, Content: InvalidMessage}

		default:
			reply, err := session.Send(ctx, question)
			if err != nil {
				logger.Error("failed to answer message", "error", err)
				frame = Frame{Type: FrameError, Content: chat.ApologyMessage}
			} else {
				frame = Frame{Type: FrameAnswer, Content: reply.Text}
			}
		}

		if err := conn.WriteJSON(frame); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

package server

import (
	"net/http"

	"github.com/fractionalquest/copilot/pkg/dispatch"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/gofiber/fiber/v2"
	"github.com/m-mizutani/goerr/v2"
)

type createSessionRequest struct {
	Page     string `json:"page"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type createSessionResponse struct {
	SessionID model.SessionID  `json:"session_id"`
	State     model.AgentState `json:"state"`
}

func (s *Server) createSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if req.Page == "" {
		return fiber.NewError(http.StatusBadRequest, "page is required")
	}

	page, err := s.pages.Page(req.Page)
	if err != nil {
		return err
	}
	var user *model.User
	if req.UserID != "" {
		user = &model.User{ID: req.UserID, Name: req.UserName}
	}

	sess, err := s.manager.Open(c.UserContext(), page, user)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(createSessionResponse{
		SessionID: sess.ID(),
		State:     sess.State(),
	})
}

func (s *Server) deleteSession(c *fiber.Ctx) error {
	id := model.SessionID(c.Params("id"))
	if err := s.manager.Close(c.UserContext(), id); err != nil {
		return err
	}
	s.limiters.Delete(id)
	return c.SendStatus(http.StatusNoContent)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if !s.limiter(sess.ID()).Allow() {
		return goerr.Wrap(ErrRateLimited, "message rejected", goerr.V("session_id", sess.ID()))
	}

	if err := sess.Send(c.UserContext(), req.Content); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

func (s *Server) getState(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.State())
}

func (s *Server) patchState(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var patch model.AgentState
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(err)
	}
	st, err := sess.SetState(patch)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// getGraph answers 404 while there is nothing beyond the user node, so the page can
// hide its graph section. ?format=html returns the rendered section.
func (s *Server) getGraph(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	g := sess.Graph()
	if g.IsEmpty() {
		return fiber.NewError(http.StatusNotFound, "no interest graph")
	}
	if c.Query("format") == "html" {
		c.Type("html")
		return c.SendString(dispatch.GraphSection(g).Render())
	}
	return c.JSON(g)
}

func (s *Server) listToolCalls(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.ToolCalls())
}

func (s *Server) renderToolCall(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	html, err := sess.RenderToolCall(model.ToolCallID(c.Params("call_id")))
	if err != nil {
		return err
	}
	c.Type("html")
	return c.SendString(html)
}

func (s *Server) retryToolCall(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Retry(c.UserContext(), model.ToolCallID(c.Params("call_id"))); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

type invokeRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

func (s *Server) invoke(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req invokeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if err := sess.Invoke(c.UserContext(), model.ToolKind(req.Name), req.Args); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

type confirmRequest struct {
	Confirmed bool   `json:"confirmed"`
	RoleType  string `json:"role_type"`
	Location  string `json:"location"`
	Remember  bool   `json:"remember"`
}

func (s *Server) confirm(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}

	id := model.ToolCallID(c.Params("call_id"))
	if err := sess.Confirm(c.UserContext(), id, chat.ConfirmInput{
		Confirmed: req.Confirmed,
		RoleType:  req.RoleType,
		Location:  req.Location,
		Remember:  req.Remember,
	}); err != nil {
		return err
	}

	html, err := sess.RenderToolCall(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "resolved", "html": html})
}

package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// events streams session events until the session unmounts or the client goes away.
// A write or flush error is how a disconnect shows up.
func (s *Server) events(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	events, cancel := sess.Events()
	logger := logging.From(c.UserContext()).With("session_id", sess.ID())

	// the first frames replay what the page needs to catch up
	initial := []chat.Event{{Type: chat.EventState, State: sess.State()}}
	if g := sess.Graph(); g != nil {
		initial = append(initial, chat.Event{Type: chat.EventGraph, Graph: g})
	}

	ctx := c.Context()
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	keepAlive := s.keepAlive
	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":%q}\n\n", sess.ID())
		for _, ev := range initial {
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					logger.Debug("event stream closed", "error", err)
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
